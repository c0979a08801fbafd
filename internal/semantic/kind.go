package semantic

// TokenKind is the highlight class of a semantic token.
type TokenKind uint8

const (
	KindNone TokenKind = iota
	KindNamespace
	KindType
	KindClass
	KindEnum
	KindInterface
	KindStruct
	KindTypeParameter
	KindParameter
	KindVariable
	KindProperty
	KindEnumMember
	KindFunction
	KindMethod
	KindMacro
	KindKeyword
	KindModifier
	KindComment
	KindString
	KindNumber
	KindRegexp
	KindOperator
	KindOther
)

var kindNames = [...]string{
	KindNone:          "none",
	KindNamespace:     "namespace",
	KindType:          "type",
	KindClass:         "class",
	KindEnum:          "enum",
	KindInterface:     "interface",
	KindStruct:        "struct",
	KindTypeParameter: "typeParameter",
	KindParameter:     "parameter",
	KindVariable:      "variable",
	KindProperty:      "property",
	KindEnumMember:    "enumMember",
	KindFunction:      "function",
	KindMethod:        "method",
	KindMacro:         "macro",
	KindKeyword:       "keyword",
	KindModifier:      "modifier",
	KindComment:       "comment",
	KindString:        "string",
	KindNumber:        "number",
	KindRegexp:        "regexp",
	KindOperator:      "operator",
	KindOther:         "other",
}

func (k TokenKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// aliases folds legend names some servers use onto the standard set.
var aliases = map[string]TokenKind{
	"event":       KindProperty,
	"decorator":   KindMacro,
	"label":       KindOther,
	"typeAlias":   KindType,
	"builtinType": KindType,
	"selfKeyword": KindKeyword,
	"boolean":     KindKeyword,
	"character":   KindString,
	"lifetime":    KindTypeParameter,
	"attribute":   KindMacro,
}

var byName = func() map[string]TokenKind {
	m := make(map[string]TokenKind, len(kindNames)+len(aliases))
	for k, name := range kindNames {
		m[name] = TokenKind(k)
	}
	for name, k := range aliases {
		m[name] = k
	}
	delete(m, "none")
	return m
}()

// KindFromLegend maps a server legend token type to a highlight kind.
// Unrecognised names map to KindOther and the empty name to KindNone.
func KindFromLegend(name string) TokenKind {
	if name == "" {
		return KindNone
	}
	if k, ok := byName[name]; ok {
		return k
	}
	return KindOther
}
