package diff

import (
	"encoding/json"
	"fmt"
)

// jsonEntry is the wire form of an Entry.
type jsonEntry struct {
	Kind     string      `json:"kind"`
	Key      string      `json:"key"`
	Old      any         `json:"old,omitempty"`
	New      any         `json:"new,omitempty"`
	Children []jsonEntry `json:"children,omitempty"`
}

// MarshalJSON encodes d as a list of entries. An empty diff encodes as [].
func (d Diff) MarshalJSON() ([]byte, error) {
	return json.Marshal(toJSONEntries(d))
}

// UnmarshalJSON decodes the list form produced by MarshalJSON.
func (d *Diff) UnmarshalJSON(data []byte) error {
	var raw []jsonEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode diff: %w", err)
	}
	decoded, err := fromJSONEntries(raw)
	if err != nil {
		return err
	}
	*d = decoded
	return nil
}

func toJSONEntries(d Diff) []jsonEntry {
	out := make([]jsonEntry, 0, len(d.entries))
	for _, e := range d.entries {
		je := jsonEntry{Kind: e.Kind.String(), Key: e.Key}
		switch e.Kind {
		case KindAdd:
			je.New = e.New
		case KindDelete:
			je.Old = e.Old
		case KindModify:
			je.Old, je.New = e.Old, e.New
		case KindNested:
			je.Children = toJSONEntries(e.Child)
		}
		out = append(out, je)
	}
	return out
}

func fromJSONEntries(raw []jsonEntry) (Diff, error) {
	d := New()
	for _, je := range raw {
		kind, err := ParseKind(je.Kind)
		if err != nil {
			return Diff{}, err
		}
		switch kind {
		case KindAdd:
			d = d.Add(je.Key, je.New)
		case KindDelete:
			d = d.Delete(je.Key, je.Old)
		case KindModify:
			d = d.Modify(je.Key, je.Old, je.New)
		case KindNested:
			child, err := fromJSONEntries(je.Children)
			if err != nil {
				return Diff{}, fmt.Errorf("nested %q: %w", je.Key, err)
			}
			d = d.WithNested(je.Key, child)
		}
	}
	return d, nil
}
