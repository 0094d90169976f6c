// Package ledger holds the identifiers, data model and session contracts the
// relay uses to talk to the consensus ledger. Concrete networks live in
// sub-packages.
package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// EntityID is the shard.realm.number triple every ledger entity is addressed by.
type EntityID struct {
	Shard uint64
	Realm uint64
	Num   uint64
}

// ParseEntityID parses the dotted "shard.realm.number" form.
func ParseEntityID(s string) (EntityID, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return EntityID{}, fmt.Errorf("invalid entity id %q: want shard.realm.number", s)
	}
	var nums [3]uint64
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return EntityID{}, fmt.Errorf("invalid entity id %q: %w", s, err)
		}
		nums[i] = n
	}
	return EntityID{Shard: nums[0], Realm: nums[1], Num: nums[2]}, nil
}

func (id EntityID) String() string {
	return fmt.Sprintf("%d.%d.%d", id.Shard, id.Realm, id.Num)
}

// IsZero reports whether the id is unset (0.0.0 is never a valid entity).
func (id EntityID) IsZero() bool {
	return id == EntityID{}
}

// AccountID identifies a ledger account.
type AccountID EntityID

// TokenID identifies a fungible token.
type TokenID EntityID

// TopicID identifies a consensus topic.
type TopicID EntityID

func ParseAccountID(s string) (AccountID, error) {
	id, err := ParseEntityID(s)
	if err != nil {
		return AccountID{}, fmt.Errorf("account: %w", err)
	}
	return AccountID(id), nil
}

func ParseTokenID(s string) (TokenID, error) {
	id, err := ParseEntityID(s)
	if err != nil {
		return TokenID{}, fmt.Errorf("token: %w", err)
	}
	return TokenID(id), nil
}

func ParseTopicID(s string) (TopicID, error) {
	id, err := ParseEntityID(s)
	if err != nil {
		return TopicID{}, fmt.Errorf("topic: %w", err)
	}
	return TopicID(id), nil
}

func (id AccountID) String() string { return EntityID(id).String() }
func (id TokenID) String() string   { return EntityID(id).String() }
func (id TopicID) String() string   { return EntityID(id).String() }

func (id AccountID) IsZero() bool { return EntityID(id).IsZero() }
func (id TokenID) IsZero() bool   { return EntityID(id).IsZero() }
func (id TopicID) IsZero() bool   { return EntityID(id).IsZero() }

// AccountFrom normalizes a string or typed account reference.
func AccountFrom(v interface{}) (AccountID, error) {
	switch x := v.(type) {
	case AccountID:
		return x, nil
	case *AccountID:
		if x == nil {
			return AccountID{}, fmt.Errorf("account: nil reference")
		}
		return *x, nil
	case EntityID:
		return AccountID(x), nil
	case string:
		return ParseAccountID(x)
	case fmt.Stringer:
		return ParseAccountID(x.String())
	default:
		return AccountID{}, fmt.Errorf("account: unsupported reference type %T", v)
	}
}

// TokenFrom normalizes a string or typed token reference.
func TokenFrom(v interface{}) (TokenID, error) {
	switch x := v.(type) {
	case TokenID:
		return x, nil
	case *TokenID:
		if x == nil {
			return TokenID{}, fmt.Errorf("token: nil reference")
		}
		return *x, nil
	case EntityID:
		return TokenID(x), nil
	case string:
		return ParseTokenID(x)
	case fmt.Stringer:
		return ParseTokenID(x.String())
	default:
		return TokenID{}, fmt.Errorf("token: unsupported reference type %T", v)
	}
}

// JSON uses the dotted string form.

func (id AccountID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id TokenID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id TopicID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }

func (id *AccountID) UnmarshalText(b []byte) error {
	v, err := ParseAccountID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

func (id *TokenID) UnmarshalText(b []byte) error {
	v, err := ParseTokenID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

func (id *TopicID) UnmarshalText(b []byte) error {
	v, err := ParseTopicID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// Amount is a token quantity in the token's smallest unit. It decodes from
// either a JSON number or a decimal string.
type Amount int64

// ParseAmount parses a base-10 integer amount.
func ParseAmount(s string) (Amount, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Amount(n), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}
	v, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
