package discovery

import (
	"fmt"
	"sort"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeTXT creates the TXT records for a speaker.
func EncodeTXT(info *SpeakerInfo) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyDeviceID: info.DeviceID,
		TXTKeyPlatform: info.Platform,
	}
	if info.Name != "" {
		txt[TXTKeyName] = info.Name
	}
	return txt
}

// DecodeTXT extracts the speaker fields from TXT records.
func DecodeTXT(txt TXTRecordMap) (deviceID, platform, name string, err error) {
	deviceID = txt[TXTKeyDeviceID]
	if deviceID == "" {
		return "", "", "", fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyDeviceID)
	}
	platform = txt[TXTKeyPlatform]
	if platform == "" {
		return "", "", "", fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyPlatform)
	}
	return deviceID, platform, txt[TXTKeyName], nil
}

// TXTRecordsToStrings converts a TXTRecordMap to "key=value" strings,
// sorted by key.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
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

// decodeAdvertisement turns a raw entry into an Advertisement.
func decodeAdvertisement(e Entry) (Advertisement, error) {
	deviceID, platform, name, err := DecodeTXT(StringsToTXTRecords(e.Text))
	if err != nil {
		return Advertisement{}, err
	}
	if e.Port <= 0 || e.Port > 65535 {
		return Advertisement{}, fmt.Errorf("%w: %d", ErrInvalidPort, e.Port)
	}

	addrs := make([]string, 0, len(e.IPv4)+len(e.IPv6))
	addrs = append(addrs, e.IPv4...)
	addrs = append(addrs, e.IPv6...)

	host := strings.TrimSuffix(e.HostName, ".")
	if len(addrs) > 0 {
		host = addrs[0]
	}
	if host == "" {
		return Advertisement{}, ErrNoAddress
	}

	return Advertisement{
		DeviceID:     deviceID,
		Platform:     platform,
		Name:         name,
		Host:         host,
		Port:         e.Port,
		InstanceName: e.Instance,
		Addresses:    addrs,
	}, nil
}
