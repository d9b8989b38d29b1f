package models

import (
	"encoding/json"
	"strings"
)

// LocationRef is the normalized reference to where an asset sits: a site and
// a location inside it, optionally resolved to a display label.
type LocationRef struct {
	SiteID     string `gorm:"size:64" json:"site_id,omitempty"`
	LocationID string `gorm:"size:128" json:"location_id,omitempty"`
	Label      string `gorm:"size:255" json:"label,omitempty"`
}

// ParseLocationRef migrates a legacy free-text location into a LocationRef.
// "site/location" yields both parts, "site/" a site alone; anything else is
// taken as the location id. It inverts Key.
func ParseLocationRef(text string) LocationRef {
	text = strings.TrimSpace(text)
	if text == "" {
		return LocationRef{}
	}
	if site, loc, ok := strings.Cut(text, "/"); ok {
		site, loc = strings.TrimSpace(site), strings.TrimSpace(loc)
		switch {
		case site != "" && loc != "":
			return LocationRef{SiteID: site, LocationID: loc}
		case site != "":
			return LocationRef{SiteID: site}
		case loc != "":
			return LocationRef{LocationID: loc}
		default:
			return LocationRef{}
		}
	}
	return LocationRef{LocationID: text}
}

// IsZero reports whether the reference points nowhere
func (l LocationRef) IsZero() bool {
	return l.SiteID == "" && l.LocationID == ""
}

// Key is the canonical form used for audit values and the legacy column:
// "site/location", "site/" for a whole site, or the bare location id.
func (l LocationRef) Key() string {
	if l.SiteID == "" {
		return l.LocationID
	}
	return l.SiteID + "/" + l.LocationID
}

// String returns the display label, falling back to the key
func (l LocationRef) String() string {
	if l.Label != "" {
		return l.Label
	}
	return l.Key()
}

// Equal compares site and location; labels are cosmetic.
func (l LocationRef) Equal(other LocationRef) bool {
	return l.SiteID == other.SiteID && l.LocationID == other.LocationID
}

// UnmarshalJSON accepts either a structured reference or the legacy free-text
// form, so older clients keep working.
func (l *LocationRef) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*l = ParseLocationRef(text)
		return nil
	}
	type plain LocationRef
	var ref plain
	if err := json.Unmarshal(data, &ref); err != nil {
		return err
	}
	*l = LocationRef{
		SiteID:     strings.TrimSpace(ref.SiteID),
		LocationID: strings.TrimSpace(ref.LocationID),
		Label:      strings.TrimSpace(ref.Label),
	}
	return nil
}
