// Package firewall lists and edits iptables rules through the iptables CLI.
//
// # Overview
//
// Listing runs `iptables -L -n --line-numbers` and parses the text into
// [Rule] records. Each record carries its chain, the trimmed line, its
// position in the chain and a content fingerprint that survives renumbering.
//
// # Architecture
//
//	Translator → runner.Runner (sudo when configured) → iptables
//
// Rule specs are tokenized with shell-word rules and passed to iptables as
// argv; no shell is involved. Mutations on one chain are serialized.
//
// # Addressing
//
// Positions are only valid for the listing they came from. Callers that need
// a stable handle use [Translator.RemoveByFingerprint], which relists and
// resolves the fingerprint to the current position while holding the chain
// lock.
//
// # Example
//
//	t := firewall.NewTranslator(firewall.Options{}, sudoRunner, logger, reg)
//	_ = t.Add(ctx, "INPUT", "-p udp --dport 500 -j ACCEPT")
//	rules, _ := t.List(ctx)
package firewall
