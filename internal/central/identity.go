package central

import (
	"fmt"

	"github.com/google/uuid"
)

// TargetIdentity names the GATT service advertised by the peripheral and the
// characteristic whose notifications are consumed. It is immutable once built.
type TargetIdentity struct {
	service        uuid.UUID
	characteristic uuid.UUID
}

// NewTargetIdentity parses both UUIDs. Any of the forms accepted by
// uuid.Parse are allowed; anything else fails with ErrMalformedIdentity.
func NewTargetIdentity(service, characteristic string) (TargetIdentity, error) {
	svc, err := parseIdentityUUID("service", service)
	if err != nil {
		return TargetIdentity{}, err
	}
	chr, err := parseIdentityUUID("characteristic", characteristic)
	if err != nil {
		return TargetIdentity{}, err
	}
	return TargetIdentity{service: svc, characteristic: chr}, nil
}

// NewServiceIdentity builds an identity that only names a service. It is
// enough for Discover; Run needs a characteristic as well.
func NewServiceIdentity(service string) (TargetIdentity, error) {
	svc, err := parseIdentityUUID("service", service)
	if err != nil {
		return TargetIdentity{}, err
	}
	return TargetIdentity{service: svc}, nil
}

func parseIdentityUUID(field, s string) (uuid.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, &Error{Kind: KindMalformedIdentity, Msg: fmt.Sprintf("%s UUID %q", field, s), Err: err}
	}
	return u, nil
}

func (t TargetIdentity) Service() uuid.UUID {
	return t.service
}

func (t TargetIdentity) Characteristic() uuid.UUID {
	return t.characteristic
}

func (t TargetIdentity) String() string {
	return fmt.Sprintf("service=%s characteristic=%s", t.service, t.characteristic)
}
