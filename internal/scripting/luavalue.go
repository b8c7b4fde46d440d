package scripting

import (
	"encoding/json"

	lua "github.com/yuin/gopher-lua"
)

// toLua converts a Go value (already round-tripped through encoding/json,
// so only json.Unmarshal's output shapes appear: map[string]interface{},
// []interface{}, float64, string, bool, nil) into a gopher-lua value.
func toLua(vm *lua.LState, v interface{}) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case float64:
		return lua.LNumber(x)
	case string:
		return lua.LString(x)
	case []interface{}:
		t := vm.NewTable()
		for i, e := range x {
			t.RawSetInt(i+1, toLua(vm, e))
		}
		return t
	case map[string]interface{}:
		t := vm.NewTable()
		for k, e := range x {
			t.RawSetString(k, toLua(vm, e))
		}
		return t
	default:
		return lua.LNil
	}
}

// fromLua converts a gopher-lua value back to a plain Go value suitable
// for json.Marshal.
func fromLua(v lua.LValue) interface{} {
	switch x := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(x)
	case lua.LNumber:
		return float64(x)
	case lua.LString:
		return string(x)
	case *lua.LTable:
		if isArray(x) {
			out := make([]interface{}, 0, x.Len())
			x.ForEach(func(_, val lua.LValue) {
				out = append(out, fromLua(val))
			})
			return out
		}
		out := make(map[string]interface{})
		x.ForEach(func(key, val lua.LValue) {
			out[key.String()] = fromLua(val)
		})
		return out
	default:
		return nil
	}
}

// isArray reports whether t looks like a sequence (keys 1..Len with no
// gaps and no string keys) rather than a map.
func isArray(t *lua.LTable) bool {
	n := t.Len()
	count := 0
	isSeq := true
	t.ForEach(func(key, _ lua.LValue) {
		count++
		if _, ok := key.(lua.LNumber); !ok {
			isSeq = false
		}
	})
	return isSeq && count == n
}

// payloadToLua decodes a JSON component payload into a Lua value. Absent
// or malformed payloads decode to LNil.
func payloadToLua(vm *lua.LState, payload []byte) lua.LValue {
	if len(payload) == 0 {
		return lua.LNil
	}
	var v interface{}
	if err := json.Unmarshal(payload, &v); err != nil {
		return lua.LNil
	}
	return toLua(vm, v)
}

// luaToPayload encodes a Lua value as a JSON component payload.
func luaToPayload(v lua.LValue) ([]byte, error) {
	return json.Marshal(fromLua(v))
}
