package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ByteArray accepts binary payloads the way browsers send them: either a
// JSON array of numbers in 0..255 (Array.from(new Uint8Array(buf))) or a
// base64 string.
type ByteArray []byte

func (b *ByteArray) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*b = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("data: %w", err)
		}
		*b = raw
		return nil
	}

	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return fmt.Errorf("data: expected byte array: %w", err)
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return fmt.Errorf("data: value %d at index %d is not a byte", n, i)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}
