package fibaro

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/moroshma/hc2stream/pkg/logger"
)

const (
	actionTurnOn  = "turnOn"
	actionTurnOff = "turnOff"
)

// Result is the body of a command API call. JSON is nil when the body is
// not valid JSON; Body always holds the raw bytes.
type Result struct {
	Action string
	Body   []byte
	JSON   json.RawMessage
}

// Decode unmarshals the JSON body into v
func (r *Result) Decode(v any) error {
	if r.JSON == nil {
		return newError(KindProtocol, "GET "+r.Action, "response body is not JSON", nil)
	}
	if err := json.Unmarshal(r.JSON, v); err != nil {
		return newError(KindProtocol, "GET "+r.Action, "unexpected response shape", err)
	}
	return nil
}

// Call runs an arbitrary API action. A body that is not JSON is not an
// error; it comes back in Result.Body with Result.JSON unset.
func (c *Client) Call(ctx context.Context, action string, params url.Values) (*Result, error) {
	body, err := c.Get(ctx, action, params)
	if err != nil {
		return nil, err
	}

	res := &Result{Action: action, Body: body}
	if json.Valid(body) {
		res.JSON = body
	} else {
		c.logger.Debug("Non-JSON response body", logger.String("action", action), logger.Int("size", len(body)))
	}
	return res, nil
}

// Rooms lists the rooms of the hub
func (c *Client) Rooms(ctx context.Context) ([]Room, error) {
	var rooms []Room
	if err := c.callDecode(ctx, "rooms", nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// Scenes lists the scenes of the hub
func (c *Client) Scenes(ctx context.Context) ([]Scene, error) {
	var scenes []Scene
	if err := c.callDecode(ctx, "scenes", nil, &scenes); err != nil {
		return nil, err
	}
	return scenes, nil
}

// Devices lists every device of the hub
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var devices []Device
	if err := c.callDecode(ctx, "devices", nil, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// Device fetches one device by id
func (c *Client) Device(ctx context.Context, id int64) (*Device, error) {
	params := url.Values{}
	params.Set("id", strconv.FormatInt(id, 10))

	var d Device
	if err := c.callDecode(ctx, "devices", params, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// CallAction invokes a named action on a device
func (c *Client) CallAction(ctx context.Context, deviceID int64, name string) error {
	params := url.Values{}
	params.Set("deviceID", strconv.FormatInt(deviceID, 10))
	params.Set("name", name)

	_, err := c.Call(ctx, "callAction", params)
	return err
}

// TurnOn switches a device on
func (c *Client) TurnOn(ctx context.Context, deviceID int64) error {
	return c.CallAction(ctx, deviceID, actionTurnOn)
}

// TurnOff switches a device off
func (c *Client) TurnOff(ctx context.Context, deviceID int64) error {
	return c.CallAction(ctx, deviceID, actionTurnOff)
}

// ToggleValue reads the device value and switches it to the opposite state.
// It returns the value the device was switched to (1 on, 0 off).
func (c *Client) ToggleValue(ctx context.Context, deviceID int64) (int, error) {
	d, err := c.Device(ctx, deviceID)
	if err != nil {
		return 0, err
	}

	if d.Properties.Value.IsZero() {
		if err := c.TurnOn(ctx, deviceID); err != nil {
			return 0, err
		}
		return 1, nil
	}

	if err := c.TurnOff(ctx, deviceID); err != nil {
		return 0, err
	}
	return 0, nil
}

func (c *Client) callDecode(ctx context.Context, action string, params url.Values, v any) error {
	res, err := c.Call(ctx, action, params)
	if err != nil {
		return err
	}
	return res.Decode(v)
}
