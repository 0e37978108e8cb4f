package config

// Design describes per-platform icon styling sent to the favicon service. JSON
// tags follow the service's request schema, YAML tags the project file.
type Design struct {
	IOS             *IOSDesign           `yaml:"ios,omitempty" json:"ios,omitempty"`
	DesktopBrowser  *DesktopDesign       `yaml:"desktopBrowser,omitempty" json:"desktop_browser,omitempty"`
	Windows         *WindowsDesign       `yaml:"windows,omitempty" json:"windows,omitempty"`
	AndroidChrome   *AndroidChromeDesign `yaml:"androidChrome,omitempty" json:"android_chrome,omitempty"`
	SafariPinnedTab *SafariDesign        `yaml:"safariPinnedTab,omitempty" json:"safari_pinned_tab,omitempty"`
}

type IOSDesign struct {
	PictureAspect   string    `yaml:"pictureAspect" json:"picture_aspect"`
	BackgroundColor string    `yaml:"backgroundColor" json:"background_color,omitempty"`
	Margin          string    `yaml:"margin" json:"margin,omitempty"`
	Assets          IOSAssets `yaml:"assets" json:"assets"`
}

type IOSAssets struct {
	IOS6AndPriorIcons      bool `yaml:"ios6AndPriorIcons" json:"ios6_and_prior_icons"`
	IOS7AndLaterIcons      bool `yaml:"ios7AndLaterIcons" json:"ios7_and_later_icons"`
	PrecomposedIcons       bool `yaml:"precomposedIcons" json:"precomposed_icons"`
	DeclareOnlyDefaultIcon bool `yaml:"declareOnlyDefaultIcon" json:"declare_only_default_icon"`
}

type DesktopDesign struct {
	Design string `yaml:"design" json:"design"`
}

type WindowsDesign struct {
	PictureAspect   string        `yaml:"pictureAspect" json:"picture_aspect"`
	BackgroundColor string        `yaml:"backgroundColor" json:"background_color,omitempty"`
	OnConflict      string        `yaml:"onConflict" json:"on_conflict,omitempty"`
	Assets          WindowsAssets `yaml:"assets" json:"assets"`
}

type WindowsAssets struct {
	Windows80IE10Tile      bool      `yaml:"windows80Ie10Tile" json:"windows_80_ie_10_tile"`
	Windows10IE11EdgeTiles EdgeTiles `yaml:"windows10Ie11EdgeTiles" json:"windows_10_ie_11_edge_tiles"`
}

type EdgeTiles struct {
	Small     bool `yaml:"small" json:"small"`
	Medium    bool `yaml:"medium" json:"medium"`
	Big       bool `yaml:"big" json:"big"`
	Rectangle bool `yaml:"rectangle" json:"rectangle"`
}

type AndroidChromeDesign struct {
	PictureAspect   string          `yaml:"pictureAspect" json:"picture_aspect"`
	Margin          string          `yaml:"margin" json:"margin,omitempty"`
	BackgroundColor string          `yaml:"backgroundColor" json:"background_color,omitempty"`
	ThemeColor      string          `yaml:"themeColor" json:"theme_color,omitempty"`
	Manifest        AndroidManifest `yaml:"manifest" json:"manifest"`
	Assets          AndroidAssets   `yaml:"assets" json:"assets"`
}

type AndroidManifest struct {
	Name        string `yaml:"name" json:"name,omitempty"`
	Display     string `yaml:"display" json:"display"`
	Orientation string `yaml:"orientation" json:"orientation"`
	OnConflict  string `yaml:"onConflict" json:"on_conflict"`
	Declared    bool   `yaml:"declared" json:"declared"`
}

type AndroidAssets struct {
	LegacyIcon         bool `yaml:"legacyIcon" json:"legacy_icon"`
	LowResolutionIcons bool `yaml:"lowResolutionIcons" json:"low_resolution_icons"`
}

type SafariDesign struct {
	PictureAspect string `yaml:"pictureAspect" json:"picture_aspect"`
	ThemeColor    string `yaml:"themeColor" json:"theme_color"`
}

// Settings controls how the favicon service renders the icon set.
type Settings struct {
	ScalingAlgorithm     string `yaml:"scalingAlgorithm" json:"scaling_algorithm"`
	ErrorOnImageTooSmall bool   `yaml:"errorOnImageTooSmall" json:"error_on_image_too_small"`
	ReadmeFile           bool   `yaml:"readmeFile" json:"readme_file"`
	HTMLCodeFile         bool   `yaml:"htmlCodeFile" json:"html_code_file"`
	UsePathAsIs          bool   `yaml:"usePathAsIs" json:"use_path_as_is"`
}

// DefaultDesign returns the icon design used when the project file has none.
func DefaultDesign() Design {
	return Design{
		IOS: &IOSDesign{
			PictureAspect:   "backgroundAndMargin",
			BackgroundColor: "#ffffff",
			Margin:          "14%",
			Assets: IOSAssets{
				DeclareOnlyDefaultIcon: true,
			},
		},
		DesktopBrowser: &DesktopDesign{Design: "raw"},
		Windows: &WindowsDesign{
			PictureAspect:   "whiteSilhouette",
			BackgroundColor: "#00a300",
			OnConflict:      "override",
			Assets: WindowsAssets{
				Windows10IE11EdgeTiles: EdgeTiles{Medium: true},
			},
		},
		AndroidChrome: &AndroidChromeDesign{
			PictureAspect:   "backgroundAndMargin",
			Margin:          "17%",
			BackgroundColor: "#ffffff",
			ThemeColor:      "#ffffff",
			Manifest: AndroidManifest{
				Display:     "standalone",
				Orientation: "notSet",
				OnConflict:  "override",
				Declared:    true,
			},
		},
		SafariPinnedTab: &SafariDesign{
			PictureAspect: "silhouette",
			ThemeColor:    "#5bd586",
		},
	}
}

func DefaultSettings() Settings {
	return Settings{
		ScalingAlgorithm: "Mitchell",
	}
}
