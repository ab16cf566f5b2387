package config

func Defaults() *Config {
	return &Config{
		Listen: ListenConfig{
			Plain:     "0.0.0.0:3333",
			Encrypted: "",
		},
		Main: MainConfig{
			TCPAddress: nil,
		},
		Fee: FeeConfig{
			Share:      0,
			Wallet:     "",
			TCPAddress: nil,
		},
		Develop: DevelopConfig{
			Wallet:     "",
			TCPAddress: nil,
			Ratio:      10,
		},
		Encrypt: EncryptConfig{
			Delimiter: '|',
		},
		LogLevel: "info",
	}
}
