package discovery

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodePresenceTXT creates the TXT records for a device.
func EncodePresenceTXT(info *PresenceInfo) TXTRecordMap {
	txt := make(TXTRecordMap)

	// Required fields
	txt[TXTKeySystemID] = strconv.FormatUint(uint64(info.SystemID), 10)
	txt[TXTKeyComponentID] = strconv.FormatUint(uint64(info.ComponentID), 10)
	txt[TXTKeyRemaining] = strconv.FormatInt(int64(info.BatteryRemaining), 10)

	// Optional fields
	if info.Type != "" {
		txt[TXTKeyType] = info.Type
	}
	if info.SchemaVersion > 0 {
		txt[TXTKeySchemaVersion] = strconv.Itoa(info.SchemaVersion)
	}

	return txt
}

// DecodePresenceTXT parses the TXT records of a device.
func DecodePresenceTXT(txt TXTRecordMap) (*PresenceInfo, error) {
	info := &PresenceInfo{}

	sys, err := parseID(txt, TXTKeySystemID)
	if err != nil {
		return nil, err
	}
	if sys == 0 {
		return nil, fmt.Errorf("%w: %s must be non-zero", ErrInvalidTXTRecord, TXTKeySystemID)
	}
	info.SystemID = sys

	info.ComponentID, err = parseID(txt, TXTKeyComponentID)
	if err != nil {
		return nil, err
	}

	info.Type = txt[TXTKeyType]

	if s, ok := txt[TXTKeySchemaVersion]; ok {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("%w: invalid %s %q", ErrInvalidTXTRecord, TXTKeySchemaVersion, s)
		}
		info.SchemaVersion = v
	}

	if s, ok := txt[TXTKeyRemaining]; ok {
		v, err := strconv.ParseInt(s, 10, 8)
		if err != nil || v < -1 || v > 100 {
			return nil, fmt.Errorf("%w: invalid %s %q", ErrInvalidTXTRecord, TXTKeyRemaining, s)
		}
		info.BatteryRemaining = int8(v)
	}

	return info, nil
}

func parseID(txt TXTRecordMap, key string) (uint8, error) {
	s, ok := txt[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingRequired, key)
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", ErrInvalidTXTRecord, key, s)
	}
	return uint8(n), nil
}

// TXTRecordsToStrings converts a TXTRecordMap to a slice of "key=value"
// strings, sorted by key.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) == 2 {
			txt[parts[0]] = parts[1]
		} else if len(parts) == 1 && parts[0] != "" {
			// Key without value (boolean flag)
			txt[parts[0]] = ""
		}
	}
	return txt
}

// TXTRecordSize returns the encoded size of the records, counting one
// length byte per string.
func TXTRecordSize(txt TXTRecordMap) int {
	size := 0
	for _, s := range TXTRecordsToStrings(txt) {
		size += 1 + len(s)
	}
	return size
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}

func defaultInstanceName(systemID, componentID uint8) string {
	return fmt.Sprintf("vbat-%d-%d", systemID, componentID)
}
