package backends

// ProviderFactory creates a provider instance with optional configuration.
type ProviderFactory func(config any) (Provider, error)

// registeredProviders holds all registered provider factories.
var registeredProviders = make(map[string]ProviderFactory)

// Register registers a provider factory function.
func Register(name string, factory ProviderFactory) {
	registeredProviders[name] = factory
}

// Create creates a provider instance with optional configuration.
func Create(name string, config any) (Provider, error) {
	factory, ok := registeredProviders[name]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return factory(config)
}
