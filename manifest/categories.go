package manifest

// Default directories, relative to the storage root, for known asset
// categories. Aliases map to the same directory.
var categoryDirs = map[string]string{
	"checkpoints":    "ckpt",
	"ckpt":           "ckpt",
	"lora":           "lora",
	"loras":          "lora",
	"vae":            "vae",
	"controlnet":     "controlnet",
	"clip_vision":    "clip_vision",
	"sam":            "sam",
	"sams":           "sam",
	"upscale":        "upscale_models",
	"upscale_models": "upscale_models",
	"esrgan":         "esrgan",
	"embeddings":     "embeddings",
	"ipadapter":      "ipadapter",
	"clip":           "clip",
	"unet":           "unet",
}

// CategoryDir returns the default directory for a category name.
func CategoryDir(name string) (string, bool) {
	dir, ok := categoryDirs[name]
	return dir, ok
}
