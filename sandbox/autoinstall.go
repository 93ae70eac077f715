package sandbox

import "regexp"

// Import-name to package-name mismatches for the auto-installer.
var pipNameMap = map[string]string{
	"PIL":      "Pillow",
	"cv2":      "opencv-python",
	"bs4":      "beautifulsoup4",
	"yaml":     "pyyaml",
	"sklearn":  "scikit-learn",
	"dateutil": "python-dateutil",
	"dotenv":   "python-dotenv",
	"gi":       "PyGObject",
	"attr":     "attrs",
	"serial":   "pyserial",
	"usb":      "pyusb",
	"Bio":      "biopython",
}

var importErrorRe = regexp.MustCompile(`(?:ModuleNotFoundError|ImportError): No module named '(\w+)'`)

// ParseImportError extracts the missing module from an import-error style
// failure and translates it to the installable package name. Returns ""
// when the failure is not an import error.
func ParseImportError(errorText string) string {
	if errorText == "" {
		return ""
	}
	m := importErrorRe.FindStringSubmatch(errorText)
	if m == nil {
		return ""
	}
	if mapped, ok := pipNameMap[m[1]]; ok {
		return mapped
	}
	return m[1]
}

// missingModule prefers the extracted traceback over raw stderr.
func missingModule(result ExecutionResult) string {
	if name := ParseImportError(result.Traceback); name != "" {
		return name
	}
	return ParseImportError(result.Stderr)
}
