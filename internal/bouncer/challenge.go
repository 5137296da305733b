package bouncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"conduit/internal/logging"
)

// Challenge authenticates username/password keycards. Challenge keycards
// first receive a challenge and the user's salt and must come back with a
// response computed by ChallengeResponse.
type Challenge struct {
	*Base
	checker    SaltedChecker
	challenges map[string]string
	fakeSecret string
}

// NewChallenge returns a challenge-response bouncer backed by checker.
func NewChallenge(opts Options, checker SaltedChecker) *Challenge {
	c := &Challenge{
		checker:    checker,
		challenges: make(map[string]string),
		fakeSecret: randomHex(16),
	}
	c.Base = newBase(opts, "challenge", []Type{TypeUACPP, TypeUACPCC}, c.decide)
	return c
}

// salt returns the real salt of a known user and a stable made-up one for
// unknown users, so a challenge does not reveal whether a username exists.
func (c *Challenge) salt(username string) string {
	if salt, ok := c.checker.Salt(username); ok {
		return salt
	}
	sum := sha256.Sum256([]byte(c.fakeSecret + username))
	return hex.EncodeToString(sum[:8])
}

func (c *Challenge) decide(ctx context.Context, kc *Keycard) *Keycard {
	stored, ok := c.AddKeycard(kc)
	if !ok {
		return kc.refuse()
	}
	if stored != kc {
		stored.Username = kc.Username
		stored.Password = kc.Password
		stored.Challenge = kc.Challenge
		stored.Response = kc.Response
	}
	kc = stored

	if kc.Type == TypeUACPCC {
		if kc.Challenge == "" {
			kc.Challenge = randomHex(16)
			kc.Salt = c.salt(kc.Username)
			c.challenges[kc.ID] = kc.Challenge
			c.logger.Debug("issued challenge", logging.String(logging.FieldKeycardID, kc.ID))
			c.record(ActionChallenged, kc)
			return kc
		}
		if kc.Response != "" {
			issued, known := c.challenges[kc.ID]
			if !known || issued != kc.Challenge {
				c.removeKeycard(kc)
				delete(c.challenges, kc.ID)
				logging.WarnWithContext(c.logger, "keycard refused, challenge tampered with", "keycard_tampered",
					logging.String(logging.FieldKeycardID, kc.ID),
					logging.String("username", kc.Username),
					logging.String(logging.FieldErrorHint, "the client must echo the challenge it was given"),
					logging.String(logging.FieldImpact, "login refused"),
				)
				return kc.refuse()
			}
			delete(c.challenges, kc.ID)
		}
	}

	avatarID, err := c.checker.RequestAvatarID(ctx, kc)
	kc.Password = ""
	if err != nil {
		c.removeKeycard(kc)
		delete(c.challenges, kc.ID)
		if !errors.Is(err, ErrNotAuthenticated) {
			c.logger.Error("credential check failed", logging.Error(err),
				logging.String(logging.FieldEventType, "checker_failed"),
				logging.String(logging.FieldErrorHint, "inspect the configured checker"),
			)
		} else {
			c.logger.Info("keycard refused", logging.String(logging.FieldKeycardID, kc.ID), logging.String("username", kc.Username))
		}
		return kc.refuse()
	}
	kc.State = Authenticated
	if kc.AvatarID == "" {
		kc.AvatarID = avatarID
	}
	c.logger.Info("authenticated login", logging.String(logging.FieldAvatarID, kc.AvatarID), logging.String(logging.FieldKeycardID, kc.ID))
	return kc
}
