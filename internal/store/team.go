package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopkeep/shopsync/internal/persist"
)

// TeamSyncKey is the fixed persistence key of the team-sync settings.
var TeamSyncKey = persist.Key("team-sync")

// TeamSettings configures multi-user sync for a device. Only the
// configuration is stored; membership is managed by the backend.
type TeamSettings struct {
	Enabled   bool      `json:"enabled"`
	TeamID    string    `json:"team_id,omitempty"`
	Role      string    `json:"role,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TeamSettings reads the stored team-sync settings. Missing settings return
// the zero value.
func (s *Store) TeamSettings(ctx context.Context) (TeamSettings, error) {
	var ts TeamSettings
	if s.adapter == nil {
		return ts, nil
	}

	raw, ok, err := s.adapter.GetItem(ctx, TeamSyncKey)
	if err != nil {
		return ts, err
	}
	if !ok {
		return ts, nil
	}
	if err := json.Unmarshal([]byte(raw), &ts); err != nil {
		return TeamSettings{}, fmt.Errorf("failed to decode team settings: %w", err)
	}
	return ts, nil
}

// SetTeamSettings stores team-sync settings, stamping UpdatedAt.
func (s *Store) SetTeamSettings(ctx context.Context, ts TeamSettings) (TeamSettings, error) {
	if ts.Enabled && ts.TeamID == "" {
		return TeamSettings{}, fmt.Errorf("team id is required when team sync is enabled")
	}
	ts.UpdatedAt = s.now().UTC()

	if s.adapter == nil {
		return ts, nil
	}

	data, err := json.Marshal(ts)
	if err != nil {
		return TeamSettings{}, fmt.Errorf("failed to encode team settings: %w", err)
	}
	if err := s.adapter.SetItem(ctx, TeamSyncKey, string(data)); err != nil {
		return TeamSettings{}, err
	}
	return ts, nil
}
