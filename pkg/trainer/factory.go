package trainer

import (
	"fmt"

	"trainops/pkg/config"
	"trainops/pkg/interfaces"
	trainerhttp "trainops/pkg/trainer/http"
	trainerk8s "trainops/pkg/trainer/k8s"
)

// NewController creates the configured trainer controller implementation.
func NewController(cfg *config.Config) (interfaces.TrainerController, error) {
	switch cfg.Trainer.Provider {
	case "k8s", "":
		return trainerk8s.NewController(cfg)
	case "http":
		return trainerhttp.NewController(cfg)
	default:
		return nil, fmt.Errorf("unknown trainer provider: %s", cfg.Trainer.Provider)
	}
}
