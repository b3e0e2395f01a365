package progress

import (
	"regexp"
)

// Catalog maps template names to human-readable text. Text may reference
// substitution variables as ${NAME}, the same syntax debconf templates use.
type Catalog map[string]string

var substRe = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)\}`)

// Render returns the text for template with vars substituted. Unknown
// templates render as their name so nothing is silently lost.
func (c Catalog) Render(template string, vars Vars) string {
	text, ok := c[template]
	if !ok {
		text = template
	}
	return substRe.ReplaceAllStringFunc(text, func(m string) string {
		name := substRe.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// Messages is the catalog used by the console and tracker reporters.
var Messages = Catalog{
	"liveinstall/install/title":                "Installing system",
	"liveinstall/install/mounting_source":      "Preparing to install...",
	"liveinstall/install/scanning":             "Scanning files...",
	"liveinstall/install/copying":              "Copying files...",
	"liveinstall/install/copying_time":         "Copying files (${TIME} remaining)...",
	"liveinstall/install/cleanup":              "Cleaning up...",
	"liveinstall/install/target_hook":          "Configuring target system (${SCRIPT})...",
	"liveinstall/install/locales":              "Configuring locales...",
	"liveinstall/install/network":              "Configuring network...",
	"liveinstall/install/apt":                  "Configuring apt...",
	"liveinstall/install/timezone":             "Configuring time zone...",
	"liveinstall/install/keyboard":             "Configuring keyboard...",
	"liveinstall/install/user":                 "Creating user...",
	"liveinstall/install/hardware":             "Configuring hardware...",
	"liveinstall/install/bootloader":           "Installing boot loader...",
	"liveinstall/install/find_removables":      "Finding packages to remove...",
	"liveinstall/install/removing":             "Removing extra packages...",
	"liveinstall/install/log_files":            "Copying installation logs...",
	"liveinstall/install/apt_indices_starting": "Updating package lists...",
	"liveinstall/install/apt_indices":          "Updating package lists (${TIME} remaining)...",
	"liveinstall/install/fetch_remove":         "Fetching packages (${TIME} remaining)...",
	"liveinstall/install/apt_info":             "${DESCRIPTION}",
	"liveinstall/install/apt_error_install":    "Error installing ${PACKAGE}: ${MESSAGE}",
	"liveinstall/install/apt_error_remove":     "Error removing ${PACKAGE}: ${MESSAGE}",
	"liveinstall/langpacks/title":              "Installing language packs",
	"liveinstall/langpacks/packages":           "Downloading language packs (${TIME} remaining)...",
}
