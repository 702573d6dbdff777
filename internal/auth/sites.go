package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"jiractl/internal/apperrors"
	"jiractl/pkg/models"
)

// ResolveSite lists the cloud sites the credential can reach and returns
// the first one. All API traffic is addressed by the site's id.
func (a *Authenticator) ResolveSite(ctx context.Context, cred models.Credential) (models.Site, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiURL+"/oauth/token/accessible-resources", nil)
	if err != nil {
		return models.Site{}, fmt.Errorf("failed to build sites request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return models.Site{}, fmt.Errorf("failed to list accessible sites: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.Site{}, fmt.Errorf("failed to read sites response: %v", err)
	}

	if resp.StatusCode >= 300 {
		return models.Site{}, fmt.Errorf("accessible-resources returned status %d", resp.StatusCode)
	}

	var sites []models.Site
	if err := json.Unmarshal(body, &sites); err != nil {
		return models.Site{}, fmt.Errorf("failed to decode sites response: %v", err)
	}
	if len(sites) == 0 {
		return models.Site{}, apperrors.ErrSiteNotResolved
	}

	// First site wins, matching single-site accounts. Multi-site
	// selection can be layered on later.
	return sites[0], nil
}
