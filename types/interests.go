package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Interests groups the onboarding answers by category. It is stored as a single JSON column.
type Interests struct {
	Vibes        []string `json:"vibes,omitempty"`
	Activities   []string `json:"activities,omitempty"`
	LookingFor   []string `json:"looking_for,omitempty"`
	Spots        []string `json:"spots,omitempty"`
	Availability []string `json:"availability,omitempty"` // "Mon-Evening"
	SocialStyle  string   `json:"social_style,omitempty"`
	AvatarColor  string   `json:"avatar_color,omitempty"`
}

// Value return json value, implement driver.Valuer interface
func (i Interests) Value() (driver.Value, error) {
	ba, err := json.Marshal(i)
	return string(ba), err
}

// Scan scan value into Interests, implements sql.Scanner interface
func (i *Interests) Scan(val interface{}) error {
	var ba []byte
	switch v := val.(type) {
	case nil:
		*i = Interests{}
		return nil
	case []byte:
		ba = v
	case string:
		ba = []byte(v)
	default:
		return errors.New(fmt.Sprint("Failed to unmarshal interests value:", val))
	}
	t := Interests{}
	err := json.Unmarshal(ba, &t)
	*i = t
	return err
}

// GormDataType gorm common data type
func (Interests) GormDataType() string {
	return "interests"
}

// GormDBDataType gorm db data type
func (Interests) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "sqlite":
		return "JSON"
	case "mysql":
		return "JSON"
	case "postgres":
		return "JSONB"
	}
	return ""
}

// ParseInterestTags converts the legacy flat "prefix:value" tag list into Interests. Unknown prefixes and tags
// without a prefix are dropped.
func ParseInterestTags(tags []string) Interests {
	res := Interests{}
	for _, tag := range tags {
		idx := strings.Index(tag, ":")
		if idx <= 0 {
			continue
		}
		prefix, value := tag[:idx], strings.TrimSpace(tag[idx+1:])
		if value == "" {
			continue
		}
		switch prefix {
		case "vibe":
			res.Vibes = append(res.Vibes, value)
		case "activity":
			res.Activities = append(res.Activities, value)
		case "looking":
			res.LookingFor = append(res.LookingFor, value)
		case "spot":
			res.Spots = append(res.Spots, value)
		case "avail":
			res.Availability = append(res.Availability, value)
		case "social":
			res.SocialStyle = value
		case "color":
			res.AvatarColor = value
		}
	}
	return res
}
