package repo

import (
	"time"

	"github.com/snugom/snugom/internal/idgen"
	"github.com/snugom/snugom/internal/keys"
)

// applyCreateDefaults sets every auto_created and auto_updated field the
// caller didn't already supply a value for, and derives each datetime
// field's epoch-ms mirror, per spec §4.B: "When a field is marked
// auto_created, it is set iff not supplied; auto_updated is refreshed on
// every successful write unless the caller supplies an explicit value."
func applyCreateDefaults(d *keys.EntityDescriptor, doc map[string]any, now time.Time) {
	nowStr := now.Format(time.RFC3339)
	for _, f := range d.Fields {
		if f.AutoCreated {
			if _, present := doc[f.Name]; !present {
				doc[f.Name] = nowStr
			}
		}
		if f.AutoUpdated {
			if _, present := doc[f.Name]; !present {
				doc[f.Name] = nowStr
			}
		}
	}
	mirrorDatetimeFields(d, doc)
}

// applyUpdateDefaults refreshes every auto_updated field in fieldMask's
// target document unless the caller already supplied an explicit value in
// the mask, then re-derives datetime mirrors for whatever the mask touches.
func applyUpdateDefaults(d *keys.EntityDescriptor, fieldMask map[string]any, now time.Time) {
	nowStr := now.Format(time.RFC3339)
	for _, f := range d.Fields {
		if f.AutoUpdated {
			if _, present := fieldMask[f.Name]; !present {
				fieldMask[f.Name] = nowStr
			}
		}
	}
	mirrorDatetimeFields(d, fieldMask)
}

// mirrorDatetimeFields sets <field>_ts = epoch_ms(<field>) for every
// datetime field present in doc, enforcing invariant 6 client-side (the
// script re-enforces it authoritatively since this is only a convenience
// default, not a substitute for the server-side guarantee).
func mirrorDatetimeFields(d *keys.EntityDescriptor, doc map[string]any) {
	for _, f := range d.Fields {
		if f.Type != keys.FieldDatetime || f.DatetimeMirrorName == "" {
			continue
		}
		raw, present := doc[f.Name]
		if !present || raw == nil {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			continue
		}
		doc[f.DatetimeMirrorName] = idgen.EpochMillis(t)
	}
}
