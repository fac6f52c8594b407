package meadtools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Brew is the service's record of one fermentation. A brew with no end date
// is ongoing.
type Brew struct {
	ID       int64   `json:"id"`
	DeviceID int64   `json:"device_id"`
	UserID   int64   `json:"user_id"`
	Name     string  `json:"name"`
	BrewName string  `json:"brew_name"`
	Start    string  `json:"start_date"`
	End      *string `json:"end_date"`
}

// DisplayName returns the brew's name. The service emits "name" on list
// responses and "brew_name" on mutation responses; either may be set.
func (b Brew) DisplayName() string {
	if b.Name != "" {
		return b.Name
	}
	return b.BrewName
}

// Ongoing reports whether the brew has not been ended yet.
func (b Brew) Ongoing() bool {
	return b.End == nil || *b.End == ""
}

// ListBrews fetches every brew on the account.
func (c *Client) ListBrews(ctx context.Context) ([]Brew, error) {
	var out []Brew
	if err := c.doJSON(ctx, http.MethodGet, "list brews", c.baseURL+"/hydrometer/brew", nil, &out); err != nil {
		return nil, err
	}
	c.logger.WithField("count", len(out)).Debug("Fetched brews")
	return out, nil
}

// RegisterBrew creates a new brew bound to the hydrometer and returns it.
// The service has answered both with a single brew object and with an array
// holding the created brew, so both shapes are accepted.
func (c *Client) RegisterBrew(ctx context.Context, brewName string, hydrometerID int64) (*Brew, error) {
	const op = "register brew"
	body := map[string]interface{}{
		"device_id": hydrometerID,
		"brew_name": brewName,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("meadtools: encode %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/hydrometer/brew", bytes.NewReader(payload))
	if err != nil {
		return nil, &RemoteError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Op: op, Status: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RemoteError{Op: op, Err: err}
	}
	brew, err := decodeBrewResponse(raw)
	if err != nil {
		return nil, &RemoteError{Op: op, Err: err}
	}

	c.logger.WithFields(logrus.Fields{"name": brewName, "id": brew.ID}).Info("Registered brew")
	return brew, nil
}

func decodeBrewResponse(raw []byte) (*Brew, error) {
	var list []Brew
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return nil, fmt.Errorf("empty brew list in response")
		}
		return &list[0], nil
	}

	var single Brew
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("decode brew response: %w", err)
	}
	return &single, nil
}

// ResolveBrew finds the ongoing brew whose name matches brewName, registering
// a new one when none exists, and returns its id. The reconciliation is
// idempotent: a second run against the same remote state adopts the same brew
// instead of registering a duplicate.
func (c *Client) ResolveBrew(ctx context.Context, brewName string, hydrometerID int64) (int64, error) {
	brews, err := c.ListBrews(ctx)
	if err != nil {
		return 0, err
	}

	for _, b := range brews {
		if b.DisplayName() == brewName && b.Ongoing() {
			c.logger.WithFields(logrus.Fields{"name": brewName, "id": b.ID}).Info("Adopted existing ongoing brew")
			return b.ID, nil
		}
	}

	c.logger.WithField("name", brewName).Info("No ongoing brew matches, registering a new one")
	brew, err := c.RegisterBrew(ctx, brewName, hydrometerID)
	if err != nil {
		return 0, err
	}
	return brew.ID, nil
}

// LinkRecipe attaches a MeadTools recipe to the brew. Recipe ids are
// positive; callers skip the call entirely when none is configured.
func (c *Client) LinkRecipe(ctx context.Context, brewID int64, recipeID int) error {
	body := map[string]int{"recipe_id": recipeID}
	url := fmt.Sprintf("%s/hydrometer/brew/%d", c.baseURL, brewID)
	if err := c.doJSON(ctx, http.MethodPatch, "link recipe", url, body, nil); err != nil {
		return err
	}
	c.logger.WithFields(logrus.Fields{"brew_id": brewID, "recipe_id": recipeID}).Info("Linked brew to recipe")
	return nil
}

// EndBrew marks the brew as finished for the given hydrometer.
func (c *Client) EndBrew(ctx context.Context, hydrometerID, brewID int64) error {
	body := map[string]int64{
		"device_id": hydrometerID,
		"brew_id":   brewID,
	}
	if err := c.doJSON(ctx, http.MethodPatch, "end brew", c.baseURL+"/hydrometer/brew", body, nil); err != nil {
		return err
	}
	c.logger.WithField("brew_id", brewID).Info("Ended brew")
	return nil
}

// DeleteBrew removes an ended brew. Ongoing brews are refused locally, the
// service would reject them anyway.
func (c *Client) DeleteBrew(ctx context.Context, brew Brew) error {
	if brew.Ongoing() {
		return fmt.Errorf("meadtools: brew %q is still ongoing, end it before deleting", brew.DisplayName())
	}
	url := fmt.Sprintf("%s/hydrometer/brew/%d", c.baseURL, brew.ID)
	if err := c.doJSON(ctx, http.MethodDelete, "delete brew", url, nil, nil); err != nil {
		return err
	}
	c.logger.WithField("brew_id", brew.ID).Info("Deleted brew")
	return nil
}
