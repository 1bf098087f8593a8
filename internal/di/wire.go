//go:build wireinject
// +build wireinject

package di

import (
	"LinePulse/pkg/config"
	"LinePulse/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// The cleanup closes store clients and drains the case pipeline.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		// Storage
		ProvideStorage,
		ProvideLearningStore,

		// Engine
		ProvideBaselines,
		ProvideSimulator,
		ProvideProfiles,
		ProvidePatternMemory,
		ProvideCorrector,
		ProvideClassifier,
		ProvideTuner,

		// Transports
		ProvideHub,
		ProvideCasePublisher,
		ProvideOutcomeConsumer,

		// Use cases
		ProvideAnalyzer,
		ProvideFeedback,
		ProvideInsights,

		// Application server
		ProvideAPIHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
