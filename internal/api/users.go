package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// RegisterRequest is the body for account creation.
type RegisterRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// TrustedContact is one entry in the user's trusted-contact list.
type TrustedContact struct {
	ID    int64  `json:"id,omitempty"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

// Login authenticates with username/password. No token is attached.
func (c *Client) Login(ctx context.Context, username, password string) Result {
	return c.do(ctx, "POST", "/api/users/login/", map[string]string{
		"username": username,
		"password": password,
	}, false)
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, req RegisterRequest) Result {
	return c.do(ctx, "POST", "/api/users/register/", req, false)
}

// Me fetches the authenticated user's profile.
func (c *Client) Me(ctx context.Context) Result {
	return c.do(ctx, "GET", "/api/users/me/", nil, true)
}

// UpdateProfile replaces profile fields. payload is serialized as-is.
func (c *Client) UpdateProfile(ctx context.Context, payload any) Result {
	return c.do(ctx, "PUT", "/api/users/profile/update/", payload, true)
}

// TrustedContacts lists the trusted contacts.
func (c *Client) TrustedContacts(ctx context.Context) Result {
	return c.do(ctx, "GET", "/api/users/trusted-contacts/", nil, true)
}

// CreateTrustedContact adds a trusted contact.
func (c *Client) CreateTrustedContact(ctx context.Context, contact TrustedContact) Result {
	return c.do(ctx, "POST", "/api/users/trusted-contacts/", contact, true)
}

// UpdateTrustedContact replaces an existing trusted contact.
func (c *Client) UpdateTrustedContact(ctx context.Context, id int64, contact TrustedContact) Result {
	return c.do(ctx, "PUT", fmt.Sprintf("/api/users/trusted-contacts/%d/", id), contact, true)
}

// DeleteTrustedContact removes a trusted contact.
func (c *Client) DeleteTrustedContact(ctx context.Context, id int64) Result {
	return c.do(ctx, "DELETE", fmt.Sprintf("/api/users/trusted-contacts/%d/", id), nil, true)
}

// SafePlaces returns nearby safe places (police, hospitals, shelters)
// with distance_meters and category fields.
func (c *Client) SafePlaces(ctx context.Context, lat, lng float64) Result {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(lng, 'f', -1, 64))
	return c.do(ctx, "GET", "/api/users/safeplaces/merged/?"+q.Encode(), nil, true)
}

// CurrentLocation fetches the last reported location.
func (c *Client) CurrentLocation(ctx context.Context) Result {
	return c.do(ctx, "GET", "/api/users/location/current/", nil, true)
}

// UpdateLocation reports the current device location.
func (c *Client) UpdateLocation(ctx context.Context, lat, lng float64) Result {
	return c.do(ctx, "POST", "/api/users/location/update/", map[string]float64{
		"latitude":  lat,
		"longitude": lng,
	}, true)
}

// SendSOS raises an SOS alert with the given message.
func (c *Client) SendSOS(ctx context.Context, message string) Result {
	return c.do(ctx, "POST", "/api/users/sos/", map[string]string{"message": message}, true)
}

// EmergencyMedia lists recorded emergency media.
func (c *Client) EmergencyMedia(ctx context.Context) Result {
	return c.do(ctx, "GET", "/api/users/emergency-media/", nil, true)
}
