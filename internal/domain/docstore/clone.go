package docstore

func (s Snapshot) clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for name, coll := range s {
		c := coll.clone()
		if c == nil {
			c = Collection{}
		}
		out[name] = c
	}
	return out
}

func (c Collection) clone() Collection {
	if c == nil {
		return nil
	}
	out := make(Collection, len(c))
	for i, rec := range c {
		out[i] = cloneRecord(rec)
	}
	return out
}

func cloneRecord(r Record) Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneRecord(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
