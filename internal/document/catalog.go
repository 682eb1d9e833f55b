package document

import "github.com/arrdeck/arrdeck/internal/constants"

func str(name, def string) FieldSpec {
	return FieldSpec{Name: name, Kind: KindString, Default: def}
}

func num(name string, def int64) FieldSpec {
	return FieldSpec{Name: name, Kind: KindInt, Default: def}
}

func flag(name string, def bool) FieldSpec {
	return FieldSpec{Name: name, Kind: KindBool, Default: def}
}

func init() {
	register(newSchema(constants.ScopeGeneral, false, []FieldSpec{
		{Name: "language", Kind: KindString, Default: "en", ApplyImmediately: true},
		{Name: "auth_mode", Kind: KindString, Default: "login", ApplyImmediately: true},
		str("timezone", "UTC"),
		{Name: "base_url", Kind: KindString, Default: "", AbsentEqualsEmpty: true},
		flag("check_for_updates", true),
		flag("display_resources", true),
		{Name: "low_usage_mode", Kind: KindBool, Default: false, AbsentEqualsEmpty: true},
		flag("ssl_verify", true),
		num("api_timeout", 120),
		num("command_wait_delay", 1),
		num("command_wait_attempts", 600),
		num("minimum_download_queue_size", -1),
		num("stateful_management_hours", 168),
		num("log_refresh_interval_seconds", 30),
		{Name: "enable_notifications", Kind: KindBool, Default: false, AbsentEqualsEmpty: true},
		str("notification_level", "info"),
		{Name: "apprise_urls", Kind: KindString, Default: "", AbsentEqualsEmpty: true, Secret: true},
	}, nil))

	for _, app := range []string{"sonarr", "radarr", "lidarr", "readarr", "whisparr", "eros"} {
		register(newSchema(app, true, appFields(), appOptions(app)))
	}

	register(newSchema("prowlarr", false, []FieldSpec{
		flag("enabled", false),
		str("api_url", ""),
		{Name: "api_key", Kind: KindString, Default: "", Secret: true},
		num("api_timeout", 120),
	}, nil))

	register(newSchema("swaparr", false, []FieldSpec{
		flag("enabled", false),
		num("max_strikes", 3),
		str("max_download_time", "2h"),
		str("ignore_above_size", "25GB"),
		flag("remove_from_client", true),
		{Name: "dry_run", Kind: KindBool, Default: false, AbsentEqualsEmpty: true},
		num("sleep_duration", 900),
	}, nil))
}

func appFields() []FieldSpec {
	return []FieldSpec{
		num("sleep_duration", 900),
		num("hourly_cap", 20),
		{Name: "debug_mode", Kind: KindBool, Default: false, AbsentEqualsEmpty: true},
	}
}

func appOptions(app string) []FieldSpec {
	options := []FieldSpec{
		num("hunt_missing_items", 1),
		num("hunt_upgrade_items", 0),
		flag("monitored_only", true),
		flag("tag_processed_items", true),
		num("api_timeout", 120),
		str("state_management_mode", "custom"),
		num("state_management_hours", 168),
	}
	switch app {
	case "sonarr":
		options = append(options,
			str("hunt_missing_mode", "seasons_packs"),
			str("upgrade_mode", "seasons_packs"),
			flag("skip_future_episodes", true),
		)
	case "lidarr":
		options = append(options, str("hunt_missing_mode", "album"))
	case "eros":
		options = append(options, str("search_mode", "movie"), flag("skip_future_releases", true))
	default:
		options = append(options, flag("skip_future_releases", true))
	}
	return options
}
