package globals

import "github.com/hashicorp/go-hclog"

var AppLogger = hclog.New(&hclog.LoggerOptions{
	Name:  "adda",
	Level: hclog.LevelFromString("DEBUG"),
})
