package bouncer

import "context"

// Trivial accepts every keycard while enabled.
type Trivial struct {
	*Base
}

// NewTrivial returns a trivial bouncer accepting every keycard type.
func NewTrivial(opts Options) *Trivial {
	t := &Trivial{}
	t.Base = newBase(opts, "trivial", []Type{TypeGeneric, TypeUACPP, TypeUACPCC}, t.decide)
	return t
}

func (t *Trivial) decide(_ context.Context, kc *Keycard) *Keycard {
	stored, ok := t.AddKeycard(kc)
	if !ok {
		return kc.refuse()
	}
	stored.State = Authenticated
	if stored.AvatarID == "" {
		stored.AvatarID = stored.Username
	}
	return stored
}
