package storage

import (
	"fmt"
	"strconv"
)

// Resource types used in grants and not found errors
const (
	ResourceRepository = "repository"
	ResourceBuild      = "build"
	ResourceBranch     = "branch"
	ResourceCron       = "cron"
	ResourceUser       = "user"
	ResourceSetting    = "setting"
)

// EncodeSettingValue converts a setting value into its stored text form
func EncodeSettingValue(v interface{}) string {
	return fmt.Sprint(v)
}

// DecodeSettingValue reverses EncodeSettingValue. Booleans and integers are
// recovered, anything else stays a string.
func DecodeSettingValue(s string) interface{} {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}
