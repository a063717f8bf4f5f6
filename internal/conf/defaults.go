package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig registers the default value for every setting with viper.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	// Main
	viper.SetDefault("main.name", "nestwatch")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs")
	viper.SetDefault("main.log.maxsizemb", 100)
	viper.SetDefault("main.log.maxbackups", 3)
	viper.SetDefault("main.log.maxagedays", 28)

	// NVR event source
	viper.SetDefault("nvr.address", "")
	viper.SetDefault("nvr.username", "")
	viper.SetDefault("nvr.password", "")
	viper.SetDefault("nvr.cameraid", "")
	viper.SetDefault("nvr.eventtypes", []string{"motion"})
	viper.SetDefault("nvr.pollinterval", 5*time.Minute)
	viper.SetDefault("nvr.lookback", 72*time.Hour)
	viper.SetDefault("nvr.downloaddir", "data/input")
	viper.SetDefault("nvr.sslverify", false)
	viper.SetDefault("nvr.sourcetype", "nvr")
	viper.SetDefault("nvr.triggerbuffer", 4)

	// Processing
	viper.SetDefault("processing.mindetectionconfidence", 0.80)
	viper.SetDefault("processing.minspeciesconfidence", 0.85)
	viper.SetDefault("processing.maxframegap", 2*time.Second)
	viper.SetDefault("processing.revisitgap", 10*time.Second)
	viper.SetDefault("processing.frameskip", 5)
	viper.SetDefault("processing.edgemarginpx", 20)
	viper.SetDefault("processing.workers", 2)
	viper.SetDefault("processing.maxretries", 3)
	viper.SetDefault("processing.retrybackoff", 10*time.Second)
	viper.SetDefault("processing.detectionmodel", "yolov8m")
	viper.SetDefault("processing.speciesmodel", "bioclip-vit-b-16")

	// Inference services
	viper.SetDefault("inference.detectorurl", "http://localhost:9001/detect")
	viper.SetDefault("inference.classifierurl", "http://localhost:9002/classify")
	viper.SetDefault("inference.faceurl", "")
	viper.SetDefault("inference.timeout", 30*time.Second)
	viper.SetDefault("inference.samplefps", 2.0)
	viper.SetDefault("inference.ffmpegpath", "ffmpeg")
	viper.SetDefault("inference.ffprobepath", "ffprobe")

	// Duplicate detection
	viper.SetDefault("duplicate.enabled", true)
	viper.SetDefault("duplicate.window", 10*time.Minute)
	viper.SetDefault("duplicate.scorethreshold", 0.80)
	viper.SetDefault("duplicate.maxhamming", 10)

	// Annotation
	viper.SetDefault("annotation.enabled", true)
	viper.SetDefault("annotation.batchsize", 100)
	viper.SetDefault("annotation.interval", 10*time.Minute)

	// Output
	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "data/nestwatch.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "nestwatch")
	viper.SetDefault("output.mysql.password", "")
	viper.SetDefault("output.mysql.database", "nestwatch")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	// Web server
	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8142")
}
