// Package config loads and validates the gateway configuration.
//
// The configuration is HCL (or JSON when the file ends in .json). Expressions
// can read environment variables through the env object:
//
//	api {
//	  listen = "127.0.0.1:3000"
//	  key "dashboard" {
//	    hash        = env.VPNADMIN_DASHBOARD_KEY_HASH
//	    permissions = ["read:*", "users:write"]
//	  }
//	}
//
//	vpn {
//	  credential_dir = "/root"
//	  bundle_suffix  = ".p12"
//	}
//
//	command "ipsec-status" {
//	  path        = "ipsec"
//	  args        = ["status"]
//	  description = "Show IPsec SA status"
//	}
//
// Missing blocks and attributes take the defaults from [Default]. [Config.Validate]
// reports every problem at once. [Watch] reloads the file when it changes.
package config
