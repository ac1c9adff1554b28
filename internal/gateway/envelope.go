package gateway

import "encoding/json"

// envelope matches the exchange's `{"status":"0000","data":...}` wrapper.
// Some endpoints return a bare JSON array instead (no envelope at all);
// decodeEnvelope handles both.
type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type errorEnvelope struct {
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

// statusOK is the exchange's envelope success code.
const statusOK = "0000"

// statusNoData is returned instead of an empty-array body for some
// read endpoints; it means "no data", not an error.
const statusNoData = "5500"

// decodeEnvelope unwraps body into out, handling three shapes: a bare
// array/object (no envelope), an `{"error":{...}}` body (returns a
// *DomainError), and the `{"status","data","message"}` envelope (status
// "0000" unwraps into out, "5500" leaves out untouched and ok=false).
func decodeEnvelope(body []byte, out interface{}) (ok bool, err error) {
	var errEnv errorEnvelope
	if json.Unmarshal(body, &errEnv) == nil && errEnv.Error.Name != "" {
		return false, &DomainError{
			Kind:    classifyErrorName(errEnv.Error.Name),
			Name:    errEnv.Error.Name,
			Message: errEnv.Error.Message,
		}
	}

	var env envelope
	if json.Unmarshal(body, &env) == nil && env.Status != "" {
		switch env.Status {
		case statusOK:
			if len(env.Data) == 0 {
				return false, nil
			}
			if unmarshalErr := json.Unmarshal(env.Data, out); unmarshalErr != nil {
				return false, unmarshalErr
			}
			return true, nil
		case statusNoData:
			return false, nil
		default:
			return false, &DomainError{Kind: Kind(env.Status), Message: env.Message}
		}
	}

	// Bare body: array or object with no envelope wrapper.
	if err := json.Unmarshal(body, out); err != nil {
		return false, err
	}
	return true, nil
}
