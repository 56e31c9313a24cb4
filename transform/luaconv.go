package transform

import (
	lua "github.com/yuin/gopher-lua"
)

// toLua converts a decoded JSON value into its Lua counterpart. Maps become
// tables keyed by string, slices become 1-indexed sequence tables.
func toLua(L *lua.LState, value interface{}) lua.LValue {
	switch v := value.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case string:
		return lua.LString(v)
	case float64:
		return lua.LNumber(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case map[string]interface{}:
		table := L.NewTable()
		for key, item := range v {
			table.RawSetString(key, toLua(L, item))
		}
		return table
	case []interface{}:
		table := L.NewTable()
		for i, item := range v {
			table.RawSetInt(i+1, toLua(L, item))
		}
		return table
	default:
		return lua.LNil
	}
}

// fromLua converts a Lua value back into a decoded-JSON shape. Tables with a
// contiguous 1..n integer sequence and no other keys become slices, all other
// tables become maps with stringified keys. Numbers that are integral render
// as float64 either way, matching encoding/json decoding.
func fromLua(value lua.LValue) interface{} {
	switch v := value.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LString:
		return string(v)
	case lua.LNumber:
		return float64(v)
	case *lua.LTable:
		return fromLuaTable(v)
	default:
		return nil
	}
}

func fromLuaTable(table *lua.LTable) interface{} {
	n := table.MaxN()
	if n > 0 {
		// Sequence only when no non-sequence keys exist.
		isSequence := true
		table.ForEach(func(key, _ lua.LValue) {
			num, ok := key.(lua.LNumber)
			if !ok || float64(num) != float64(int(num)) || int(num) < 1 || int(num) > n {
				isSequence = false
			}
		})
		if isSequence {
			items := make([]interface{}, 0, n)
			for i := 1; i <= n; i++ {
				items = append(items, fromLua(table.RawGetInt(i)))
			}
			return items
		}
	}

	result := make(map[string]interface{})
	table.ForEach(func(key, item lua.LValue) {
		result[key.String()] = fromLua(item)
	})
	return result
}
