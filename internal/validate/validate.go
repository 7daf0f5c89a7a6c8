// Package validate runs the field-level and element-level rules declared on
// an entity descriptor against a candidate document, aggregating every
// failure into one reported error rather than stopping at the first.
//
// Uniqueness (and compound uniqueness) are declared here as markers only:
// only the atomic script engine has the global view needed to enforce them,
// so Evaluate never rejects on a Unique rule. The same is true of Custom
// rules, which the caller is expected to have already run before submitting
// the mutation (spec: "escape hatch; called by the façade before the
// mutation is submitted").
package validate

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"

	"github.com/snugom/snugom/internal/keys"
)

// Issue is one field-level validation failure.
type Issue struct {
	Field   string `json:"field_path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error aggregates every Issue found while validating a document. A nil
// *Error (returned by Evaluate when there are no issues) is not an error.
type Error struct {
	Issues []Issue
}

func (e *Error) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e.Issues))
	for i, iss := range e.Issues {
		parts[i] = fmt.Sprintf("%s: %s (%s)", iss.Field, iss.Message, iss.Code)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// uuidPattern matches the canonical 8-4-4-4-12 hex UUID form.
var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// IsValidEmail reports whether value is a syntactically valid email address.
func IsValidEmail(value string) bool {
	_, err := mail.ParseAddress(value)
	return err == nil
}

// IsValidURL reports whether value parses as a URL with a scheme and host.
func IsValidURL(value string) bool {
	u, err := url.Parse(value)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// IsValidUUID reports whether value is a canonically-formatted UUID.
func IsValidUUID(value string) bool {
	return uuidPattern.MatchString(value)
}

// Document is a decoded JSON object: the full candidate entity on create, or
// the field mask on patch.
type Document map[string]any

// Evaluate validates doc against every field rule in d. present identifies
// which top-level keys doc actually carries values for (on a patch the
// repository passes the field mask as doc and its keys as present, so
// required_if / forbidden_if expressions see only the patched fields);
// required_if / forbidden_if and emptiness checks only fire for fields in
// present, plus every required field on a full (non-patch) evaluation.
func Evaluate(d *keys.EntityDescriptor, doc Document, present map[string]bool, isPatch bool) *Error {
	var issues []Issue

	for _, f := range d.Fields {
		touched := present == nil || present[f.Name]
		if !touched && isPatch {
			continue
		}

		// The ID and version fields are assigned by the write path, so a
		// candidate document may leave them empty.
		optional := f.Optional || f.IsID || f.VersionField

		raw, has := doc[f.Name]

		if !has {
			if !optional && !isPatch {
				issues = append(issues, Issue{Field: f.Name, Code: "required", Message: "field is required"})
			} else {
				for _, rule := range f.Validations {
					if rule.Kind == "required_if" {
						if iss := evalRule(f.Name, rule, nil, doc); iss != nil {
							issues = append(issues, *iss)
						}
					}
				}
			}
			continue
		}
		if isZeroish(raw) && !optional {
			issues = append(issues, Issue{Field: f.Name, Code: "required", Message: "field must not be empty"})
			continue
		}

		for _, rule := range f.Validations {
			if iss := evalRule(f.Name, rule, raw, doc); iss != nil {
				issues = append(issues, *iss)
			}
		}
	}

	if len(issues) == 0 {
		return nil
	}
	return &Error{Issues: issues}
}

func isZeroish(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	}
	return false
}

func evalRule(field string, rule keys.ValidationRule, value any, doc Document) *Issue {
	switch rule.Kind {
	case "length":
		return evalLength(field, rule, value)
	case "range":
		return evalRange(field, rule, value)
	case "regex":
		return evalRegex(field, rule, value)
	case "enum":
		return evalEnum(field, rule, value)
	case "email":
		if s, ok := value.(string); ok && !IsValidEmail(s) {
			return &Issue{Field: field, Code: "email", Message: "not a valid email address"}
		}
	case "url":
		if s, ok := value.(string); ok && !IsValidURL(s) {
			return &Issue{Field: field, Code: "url", Message: "not a valid URL"}
		}
	case "uuid":
		if s, ok := value.(string); ok && !IsValidUUID(s) {
			return &Issue{Field: field, Code: "uuid", Message: "not a valid UUID"}
		}
	case "required_if":
		if ok, err := EvalExpr(rule.Expr, doc); err == nil && ok && isZeroish(value) {
			return &Issue{Field: field, Code: "required_if", Message: "field is required given " + rule.Expr}
		}
	case "forbidden_if":
		if ok, err := EvalExpr(rule.Expr, doc); err == nil && ok && !isZeroish(value) {
			return &Issue{Field: field, Code: "forbidden_if", Message: "field is forbidden given " + rule.Expr}
		}
	case "each":
		return evalEach(field, rule, value)
	case "unique", "custom":
		// Enforced elsewhere; no local check.
	}
	return nil
}

func evalLength(field string, rule keys.ValidationRule, value any) *Issue {
	n := lengthOf(value)
	if n < 0 {
		return nil
	}
	if rule.Min != nil && float64(n) < *rule.Min {
		return &Issue{Field: field, Code: "length", Message: fmt.Sprintf("length %d is below minimum %v", n, *rule.Min)}
	}
	if rule.Max != nil && float64(n) > *rule.Max {
		return &Issue{Field: field, Code: "length", Message: fmt.Sprintf("length %d exceeds maximum %v", n, *rule.Max)}
	}
	return nil
}

func lengthOf(value any) int {
	switch t := value.(type) {
	case string:
		return len([]rune(t))
	case []any:
		return len(t)
	default:
		return -1
	}
}

func evalRange(field string, rule keys.ValidationRule, value any) *Issue {
	n, ok := numericOf(value)
	if !ok {
		return nil
	}
	if rule.Min != nil && n < *rule.Min {
		return &Issue{Field: field, Code: "range", Message: fmt.Sprintf("%v is below minimum %v", n, *rule.Min)}
	}
	if rule.Max != nil && n > *rule.Max {
		return &Issue{Field: field, Code: "range", Message: fmt.Sprintf("%v exceeds maximum %v", n, *rule.Max)}
	}
	return nil
}

func numericOf(value any) (float64, bool) {
	switch t := value.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func evalRegex(field string, rule keys.ValidationRule, value any) *Issue {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	pattern := rule.CompiledPattern
	if pattern == nil {
		compiled, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return &Issue{Field: field, Code: "regex", Message: "invalid pattern configured: " + err.Error()}
		}
		pattern = compiled
	}
	if !pattern.MatchString(s) {
		return &Issue{Field: field, Code: "regex", Message: "does not match required pattern"}
	}
	return nil
}

func evalEnum(field string, rule keys.ValidationRule, value any) *Issue {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	for _, allowed := range rule.Allowed {
		if s == allowed || (rule.CaseInsensitive && strings.EqualFold(s, allowed)) {
			return nil
		}
	}
	return &Issue{Field: field, Code: "enum", Message: fmt.Sprintf("%q is not one of %v", s, rule.Allowed)}
}

func evalEach(field string, rule keys.ValidationRule, value any) *Issue {
	if rule.Each == nil {
		return nil
	}
	elems, ok := value.([]any)
	if !ok {
		return nil
	}
	for i, elem := range elems {
		if iss := evalRule(field, *rule.Each, elem, nil); iss != nil {
			iss.Field = fmt.Sprintf("%s[%d]", field, i)
			return iss
		}
	}
	return nil
}
