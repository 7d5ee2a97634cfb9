package mapindex

import "fmt"

var regionCodes = map[int]string{
	1: "us",
	2: "eu",
	3: "kr",
	5: "cn",
}

// RegionCode maps a numeric region id to the depot region code.
func RegionCode(regionID int) (string, error) {
	code, ok := regionCodes[regionID]
	if !ok {
		return "", fmt.Errorf("unknown region id %d", regionID)
	}
	return code, nil
}

// RegionCodes lists every known depot region code.
func RegionCodes() []string {
	return []string{"us", "eu", "kr", "cn"}
}
