package script

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

//go:embed lua/common.lua lua/entity_upsert.lua lua/entity_patch.lua lua/entity_delete.lua lua/relation_mutation.lua lua/entity_upsert_branch.lua lua/entity_get_or_create.lua
var luaFS embed.FS

func mustLoad(name string) string {
	b, err := luaFS.ReadFile("lua/" + name)
	if err != nil {
		panic(fmt.Sprintf("script: embedded lua file %q missing: %v", name, err))
	}
	return string(b)
}

// body concatenates the shared helper prelude with a named script so every
// EVAL runs in one Lua chunk. The prelude defines key-building, JSON and
// normalization helpers used by all six scripts.
func body(scriptFile string) string {
	return mustLoad("common.lua") + "\n" + mustLoad(scriptFile)
}

var (
	upsertBody         = body("entity_upsert.lua")
	patchBody          = body("entity_patch.lua")
	deleteBody         = body("entity_delete.lua")
	relationBody       = body("relation_mutation.lua")
	upsertBranchBody   = body("entity_upsert_branch.lua")
	getOrCreateBody    = body("entity_get_or_create.lua")

	upsertScript       = redis.NewScript(upsertBody)
	patchScript        = redis.NewScript(patchBody)
	deleteScript       = redis.NewScript(deleteBody)
	relationScript     = redis.NewScript(relationBody)
	upsertBranchScript = redis.NewScript(upsertBranchBody)
	getOrCreateScript  = redis.NewScript(getOrCreateBody)
)

func scriptFor(c MutationCommand) (*redis.Script, string) {
	switch c.(type) {
	case *UpsertCommand:
		return upsertScript, upsertBody
	case *PatchCommand:
		return patchScript, patchBody
	case *DeleteCommand:
		return deleteScript, deleteBody
	case *RelationMutationCommand:
		return relationScript, relationBody
	case *UpsertBranchCommand:
		return upsertBranchScript, upsertBranchBody
	case *GetOrCreateCommand:
		return getOrCreateScript, getOrCreateBody
	default:
		return nil, ""
	}
}

// Engine dispatches MutationCommands to their backing Lua script over a
// redis.Scripter (satisfied by *redis.Client and *redis.ClusterClient),
// decoding the JSON response into either a result map or a typed error.
type Engine struct {
	rdb redis.Scripter
}

// NewEngine wraps rdb (typically a *redis.Client) for script dispatch.
func NewEngine(rdb redis.Scripter) *Engine {
	return &Engine{rdb: rdb}
}

// Invoke runs a single command's script and returns its decoded JSON
// response (with the "error" key absent on success).
func (e *Engine) Invoke(ctx context.Context, cmd MutationCommand) (map[string]any, error) {
	scr, scriptBody := scriptFor(cmd)
	if scr == nil {
		return nil, &InvalidRequestError{Message: fmt.Sprintf("unknown command type %T", cmd)}
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("script: marshal command: %w", err)
	}

	raw, err := scr.Run(ctx, e.rdb, nil, string(payload), scriptBody).Result()
	if err != nil {
		return nil, fmt.Errorf("script: backend error: %w", err)
	}

	rawStr, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("script: unexpected response type %T", raw)
	}

	var resp map[string]any
	if err := json.Unmarshal([]byte(rawStr), &resp); err != nil {
		return nil, fmt.Errorf("script: decode lua response: %w", err)
	}

	if code, ok := resp["error"].(string); ok {
		return nil, decodeError(code, resp)
	}
	return resp, nil
}

// Execute runs every command in plan in order, stopping at the first
// error. Commands already applied before a failing one remain durable
// (spec §7: cross-command atomicity is not guaranteed).
func (e *Engine) Execute(ctx context.Context, plan MutationPlan) ([]map[string]any, error) {
	responses := make([]map[string]any, 0, len(plan.Commands))
	for _, cmd := range plan.Commands {
		resp, err := e.Invoke(ctx, cmd)
		if err != nil {
			return responses, err
		}
		responses = append(responses, resp)
	}
	return responses, nil
}
