package config

const (
	defaultStateDir          = "~/.local/share/conduit"
	defaultLogDir            = "~/.local/share/conduit/logs"
	defaultManagerListen     = "127.0.0.1:8642"
	defaultManagerHTTPBind   = "127.0.0.1:8643"
	defaultPortBase          = 5500
	defaultLoginRate         = 20
	defaultLoginBurst        = 40
	defaultBouncerType       = BouncerTrivial
	defaultExpireInterval    = 120
	defaultWorkerName        = "localhost"
	defaultHeartbeatInterval = 5
	defaultHeartbeatTimeout  = 30
	defaultReconnectInterval = 3
	defaultNotifyTimeout     = 10
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

// Bouncer types.
const (
	BouncerTrivial   = "trivial"
	BouncerChallenge = "challenge"
)

// Component types understood by the job runtime.
const (
	TypeProducer  = "producer"
	TypeConverter = "converter"
	TypeConsumer  = "consumer"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Manager: Manager{
			Listen:     defaultManagerListen,
			HTTPBind:   defaultManagerHTTPBind,
			PortBase:   defaultPortBase,
			LoginRate:  defaultLoginRate,
			LoginBurst: defaultLoginBurst,
		},
		Bouncer: Bouncer{
			Type:           defaultBouncerType,
			Enabled:        true,
			ExpireInterval: defaultExpireInterval,
		},
		Worker: Worker{
			Name:    defaultWorkerName,
			Manager: defaultManagerListen,
		},
		Component: ComponentTiming{
			HeartbeatInterval: defaultHeartbeatInterval,
			HeartbeatTimeout:  defaultHeartbeatTimeout,
			ReconnectInterval: defaultReconnectInterval,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Recovery:       true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
