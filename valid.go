package cfbstore

type Validation int

const (
	ValidationPermissive Validation = iota
	ValidationStrict     Validation = iota
)

func (v Validation) IsStrict() bool {
	return v == ValidationStrict
}

func (v Validation) String() string {
	if v.IsStrict() {
		return "strict"
	}
	return "permissive"
}

// ParseValidation accepts "strict" and "permissive".
func ParseValidation(s string) (Validation, bool) {
	switch s {
	case "strict":
		return ValidationStrict, true
	case "permissive", "":
		return ValidationPermissive, true
	default:
		return ValidationPermissive, false
	}
}
