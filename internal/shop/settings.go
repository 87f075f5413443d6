package shop

import (
	"time"

	"github.com/zot/shopsync/internal/reconcile"
)

const settingsKey = "website-settings"

// Settings holds the editable site copy.
type Settings struct {
	state *reconcile.State[WebsiteSettings]
	now   func() time.Time
}

func NewSettings(e *reconcile.Engine) *Settings {
	return &Settings{state: reconcile.Use(e, settingsKey, WebsiteSettings{}), now: time.Now}
}

func (s *Settings) Get() WebsiteSettings {
	return s.state.Get()
}

// Save stores settings stamped with the editor's name.
func (s *Settings) Save(settings WebsiteSettings, by string) WebsiteSettings {
	if by == "" {
		by = "Unknown Admin"
	}
	settings.LastUpdatedBy = by
	settings.LastUpdatedAt = Timestamp(s.now())
	s.state.Set(settings)
	return settings
}

func (s *Settings) Close() {
	s.state.Close()
}
