package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Scan implements sql.Scanner; NULL reads as ReviewStatusNone.
func (r *ReviewStatus) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*r = ReviewStatusNone
	case string:
		*r = ReviewStatus(v)
	case []byte:
		*r = ReviewStatus(v)
	default:
		return fmt.Errorf("ReviewStatus.Scan: unsupported type %T", src)
	}
	return nil
}

// Value implements driver.Valuer; ReviewStatusNone is stored as NULL.
func (r ReviewStatus) Value() (driver.Value, error) {
	if r == ReviewStatusNone {
		return nil, nil
	}
	return string(r), nil
}

// RoleList is a set of roles persisted as a comma-separated column.
type RoleList []UserRole

// String joins the roles with commas.
func (l RoleList) String() string {
	parts := make([]string, len(l))
	for i, r := range l {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}

// Scan implements sql.Scanner.
func (l *RoleList) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("RoleList.Scan: unsupported type %T", src)
	}
	*l = ParseRoleList(raw)
	return nil
}

// Value implements driver.Valuer.
func (l RoleList) Value() (driver.Value, error) {
	return l.String(), nil
}

// ParseRoleList splits a comma-separated role string, dropping blanks.
func ParseRoleList(raw string) RoleList {
	var out RoleList
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, UserRole(p))
		}
	}
	return out
}

// MarshalJSON renders ReviewStatusNone as null.
func (r ReviewStatus) MarshalJSON() ([]byte, error) {
	if r == ReviewStatusNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(r))
}

// UnmarshalJSON accepts null or a string.
func (r *ReviewStatus) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = ReviewStatusNone
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*r = ReviewStatus(s)
	return nil
}
