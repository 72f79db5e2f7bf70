package zuliprc

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps unprefixed flag names to setting keys. Flags marked shared
// are registered without the prefix so several option groups can coexist.
var flagKeys = []struct {
	name   string
	key    string
	shared bool
}{
	{"site", keySite, false},
	{"api-key", keyAPIKey, false},
	{"user", keyEmail, false},
	{"config-file", keyConfigFile, false},
	{"client", keyClient, false},
	{"verbose", keyVerbose, true},
	{"insecure", keyInsecure, true},
	{"cert-bundle", keyCertBundle, true},
	{"client-cert", keyClientCert, true},
	{"client-cert-key", keyClientCertKey, true},
}

// AddFlags registers the API configuration option group on fs. prefix is
// prepended to the per-server flags (site, api-key, user, config-file,
// client), so a tool talking to two servers can call AddFlags twice.
func AddFlags(fs *pflag.FlagSet, prefix string) {
	fs.String(prefix+"site", "", "server URI")
	fs.String(prefix+"api-key", "", "API key of the calling bot or user")
	fs.String(prefix+"user", "", "email address of the calling bot or user")
	fs.String(prefix+"config-file", "", "location of an ini file containing the above information (default ~/.zuliprc)")
	fs.String(prefix+"client", "", "client name reported in the User-Agent")
	_ = fs.MarkHidden(prefix + "client")

	if fs.Lookup("verbose") != nil {
		return
	}
	fs.BoolP("verbose", "v", false, "provide detailed output")
	fs.Bool("insecure", false, "do not verify the server certificate; the https connection will not be secure")
	fs.String("cert-bundle", "", "file containing either the server certificate or a set of trusted CA certificates (PEM)")
	fs.String("client-cert", "", "file containing a client certificate (not needed for most deployments)")
	fs.String("client-cert-key", "", "file containing the client certificate's key, if it is in a separate file")
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet, prefix string) error {
	for _, f := range flagKeys {
		name := f.name
		if !f.shared {
			name = prefix + name
		}
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(f.key, flag); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}
