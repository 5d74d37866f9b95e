package parser

// AggregateInstance is the instance key sar uses for the all-CPU row.
const AggregateInstance = "all"

type keyParts struct {
	section  string
	instance string
	column   string
	keyed    bool
}

// KeyBuilder derives metric ids:
//
//	{section}_{instance}_{column}  for sections with an instance key
//	{section}_{column}             otherwise
//
// The same inputs always produce the same (interned) id.
type KeyBuilder struct {
	intern *StringIntern
	cache  map[keyParts]string
}

// NewKeyBuilder creates a KeyBuilder that interns through si.
func NewKeyBuilder(si *StringIntern) *KeyBuilder {
	if si == nil {
		si = NewStringIntern()
	}
	return &KeyBuilder{
		intern: si,
		cache:  make(map[keyParts]string, 256),
	}
}

// Build returns the metric id for a column. instance is nil for sections
// without an instance key.
func (b *KeyBuilder) Build(section string, instance *string, column string) string {
	k := keyParts{section: section, column: column}
	if instance != nil {
		k.instance = *instance
		k.keyed = true
	}
	if id, ok := b.cache[k]; ok {
		return id
	}

	var id string
	if k.keyed {
		id = section + "_" + k.instance + "_" + column
	} else {
		id = section + "_" + column
	}
	id = b.intern.Intern(id)
	b.cache[k] = id
	return id
}
