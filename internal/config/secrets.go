package config

import (
	"github.com/alanyoungcy/ledgersync/internal/crypto"
)

// RedactedConfig returns a copy of cfg with secrets replaced by "***", for
// logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.Secret)
	redact(&out.Wallet.KeyPassword)
	redact(&out.Redis.Password)
	redact(&out.Audit.DSN)
	redact(&out.Audit.Password)
	redact(&out.Archive.AccessKey)
	redact(&out.Archive.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.Session.InflationAllowList = append([]string(nil), cfg.Session.InflationAllowList...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Directory.Assets = append([]AssetEntry(nil), cfg.Directory.Assets...)
	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// CredentialSource maps the wallet section onto the credential resolver.
func (w WalletConfig) CredentialSource() crypto.CredentialSource {
	return crypto.CredentialSource{
		Secret:           w.Secret,
		PublicKey:        w.PublicKey,
		EncryptedKeyPath: w.EncryptedKeyPath,
		Password:         w.KeyPassword,
	}
}
