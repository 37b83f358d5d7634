// Package cursor converts wall-clock instants into note id boundaries.
//
// Misskey note ids sort in creation order, so a time range can be expressed as
// an id range and served by the primary key index that pagination already
// walks. The encoders here must stay in lock-step with the id generators the
// source instance is configured with.
package cursor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Scheme names a Misskey id generation method.
type Scheme string

const (
	SchemeAid  Scheme = "aid"
	SchemeAidx Scheme = "aidx"
	SchemeULID Scheme = "ulid"
)

// DefaultScheme is used when no scheme is configured.
const DefaultScheme = SchemeAid

// AidEpoch is 2000-01-01T00:00:00Z in unix milliseconds.
const AidEpoch int64 = 946684800000

const (
	aidTimeWidth = 8
	aidSuffix    = "00"
	aidxSuffix   = "00000000"
)

// aidMaxElapsed is the largest elapsed millisecond count that fits in 8 base-36 digits.
const aidMaxElapsed int64 = 2821109907455

// ParseScheme validates a scheme name. Empty means DefaultScheme.
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultScheme, nil
	case SchemeAid:
		return SchemeAid, nil
	case SchemeAidx:
		return SchemeAidx, nil
	case SchemeULID:
		return SchemeULID, nil
	}
	return "", fmt.Errorf("unknown id scheme %q (want aid, aidx or ulid)", s)
}

// EncodeAid returns the 10-character aid boundary for t.
// Instants before AidEpoch clamp to the minimum.
func EncodeAid(t time.Time) string {
	return aidTime(t) + aidSuffix
}

// aidTime returns the 8-character base-36 time prefix shared by aid and aidx.
func aidTime(t time.Time) string {
	elapsed := max(t.UnixMilli()-AidEpoch, 0)
	digits := strconv.FormatInt(elapsed, 36)
	if len(digits) < aidTimeWidth {
		digits = strings.Repeat("0", aidTimeWidth-len(digits)) + digits
	}
	return digits
}

// Encode returns the smallest id the scheme could assign at instant t.
func Encode(scheme Scheme, t time.Time) (string, error) {
	switch scheme {
	case SchemeAid, SchemeAidx:
		if t.UnixMilli()-AidEpoch > aidMaxElapsed {
			return "", fmt.Errorf("instant %s is beyond the %s id range", t.UTC().Format(time.RFC3339), scheme)
		}
		if scheme == SchemeAidx {
			return aidTime(t) + aidxSuffix, nil
		}
		return EncodeAid(t), nil
	case SchemeULID:
		ms := t.UnixMilli()
		if ms < 0 {
			ms = 0
		}
		var id ulid.ULID
		if err := id.SetTime(uint64(ms)); err != nil {
			return "", fmt.Errorf("instant %s is beyond the ulid range: %w", t.UTC().Format(time.RFC3339), err)
		}
		return id.String(), nil
	}
	return "", fmt.Errorf("unknown id scheme %q", scheme)
}

// Min returns the sentinel that sorts before every id of the scheme.
func Min(scheme Scheme) string {
	switch scheme {
	case SchemeAidx:
		return strings.Repeat("0", aidTimeWidth+len(aidxSuffix))
	case SchemeULID:
		return strings.Repeat("0", ulid.EncodedSize)
	default:
		return strings.Repeat("0", aidTimeWidth+len(aidSuffix))
	}
}

// Width returns the length of ids produced by the scheme.
func Width(scheme Scheme) int {
	return len(Min(scheme))
}
