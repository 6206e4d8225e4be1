package auth

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Role is the coarse access tier assigned to a user.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleUser    Role = "user"
	RoleViewer  Role = "viewer"
)

// ParseRole normalizes and validates a role string.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.TrimSpace(strings.ToLower(raw))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleManager:
		return RoleManager, nil
	case RoleUser:
		return RoleUser, nil
	case RoleViewer:
		return RoleViewer, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
}

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// FirmAccess describes which firms a user may touch: every firm, or an
// explicit set of firm ids.
type FirmAccess struct {
	All   bool
	Firms []string
}

// AllFirms grants access to every firm.
func AllFirms() FirmAccess { return FirmAccess{All: true} }

// FirmsOnly grants access to the given firm ids.
func FirmsOnly(ids ...string) FirmAccess {
	return FirmAccess{Firms: dedupeStrings(ids)}
}

// ParseFirmAccess decodes the stored representation: "all" or a
// comma-separated list of firm ids.
func ParseFirmAccess(raw string) FirmAccess {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "all") {
		return FirmAccess{All: raw != ""}
	}
	return FirmAccess{Firms: dedupeStrings(strings.Split(raw, ","))}
}

// String returns the stored representation.
func (fa FirmAccess) String() string {
	if fa.All {
		return "all"
	}
	return strings.Join(fa.Firms, ",")
}

// Contains reports whether the access set covers the firm.
func (fa FirmAccess) Contains(firmID string) bool {
	if fa.All {
		return true
	}
	for _, id := range fa.Firms {
		if id == firmID {
			return true
		}
	}
	return false
}

// User represents an authenticated actor. Firm visibility is carried on the
// user record and re-read on every request; tokens never embed it.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	FirmAccess   FirmAccess
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	sort.Strings(result)
	return result
}
