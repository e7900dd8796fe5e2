package command

import (
	"context"
	"fmt"
	"sort"
)

// knownPreferences is the fixed preference set, each with its default
// applied when the oper has never set it explicitly.
var knownPreferences = map[string]bool{
	"statsp": true,
	"knag":   false,
}

func cmdPref(ctx context.Context, d *Dispatcher, oper string, args []string) ([]string, error) {
	switch len(args) {
	case 0:
		return d.prefList(ctx, oper)
	case 1:
		return d.prefGet(ctx, oper, args[0])
	default:
		return d.prefSet(ctx, oper, args[0], args[1])
	}
}

func (d *Dispatcher) prefList(ctx context.Context, oper string) ([]string, error) {
	set, err := d.store.ListPreferences(ctx, oper)
	if err != nil {
		return nil, fmt.Errorf("pref: %w", err)
	}
	keys := make([]string, 0, len(knownPreferences))
	for key := range knownPreferences {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		if raw, ok := set[key]; ok {
			lines = append(lines, fmt.Sprintf("%s = %s", key, raw))
		} else {
			lines = append(lines, fmt.Sprintf("%s = %t (default)", key, knownPreferences[key]))
		}
	}
	return lines, nil
}

func (d *Dispatcher) prefGet(ctx context.Context, oper, key string) ([]string, error) {
	def, known := knownPreferences[key]
	if !known {
		return nil, notFoundErrorf("no such preference %q", key)
	}
	raw, ok, err := d.store.GetPreference(ctx, oper, key)
	if err != nil {
		return nil, fmt.Errorf("pref: %w", err)
	}
	if !ok {
		return []string{fmt.Sprintf("%s = %t (default)", key, def)}, nil
	}
	return []string{fmt.Sprintf("%s = %s", key, raw)}, nil
}

func (d *Dispatcher) prefSet(ctx context.Context, oper, key, value string) ([]string, error) {
	if _, known := knownPreferences[key]; !known {
		return nil, notFoundErrorf("no such preference %q", key)
	}
	var b bool
	switch value {
	case "true", "yes", "on", "1":
		b = true
	case "false", "no", "off", "0":
		b = false
	default:
		return nil, parseErrorf("preference %q is boolean, got %q", key, value)
	}
	if err := d.store.SetPreference(ctx, oper, key, b); err != nil {
		return nil, fmt.Errorf("pref: %w", err)
	}
	return []string{fmt.Sprintf("%s = %t", key, b)}, nil
}
