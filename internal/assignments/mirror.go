package assignments

import (
	"context"
	"net/http"
	"net/url"

	"github.com/elcapodeicapi/EVC-website-sub000/internal/apiclient"
)

type TokenFunc func(ctx context.Context) (string, error)

// MirrorClient posts status changes to the gateway's relational mirror.
type MirrorClient struct {
	client *apiclient.Client
	token  TokenFunc
}

func NewMirrorClient(client *apiclient.Client, token TokenFunc) *MirrorClient {
	return &MirrorClient{client: client, token: token}
}

func (m *MirrorClient) RecordStatus(ctx context.Context, customerID string, update StatusUpdate) error {
	token, err := m.token(ctx)
	if err != nil {
		return err
	}
	requestPath := "/api/v1/assignments/" + url.PathEscape(customerID) + "/status"
	return m.client.DoJSON(ctx, http.MethodPost, requestPath, token, update, nil)
}
