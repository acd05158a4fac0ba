// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

package main

// Version is set at build time via -ldflags.
var Version = "dev"

const banner = `
Basalt Volume Manager
Pure Go encrypted container implementation
`

const usage = `
USAGE:
    basalt-cli <command> [options]

COMMANDS:
    create <path>                 Create a new volume
    mount <path> <mountpoint>     Mount a volume, serving I/O until dismounted
    dismount <mountpoint|slot>    Dismount a previously mounted volume
    list                          List currently mounted volumes
    change-password <path>        Change a volume's password and/or KDF
    backup-headers <path> <out>   Export a fresh-salt copy of a volume's headers
    restore-headers <path> <in>   Restore a volume's headers from a backup file
    create-keyfile <path>         Generate a random keyfile
    self-test                     Run the RNG self-test and report the result
    help                          Show this help message
    version                       Show version information

OPTIONS:
    --password <text>         Supply the password non-interactively
    --keyfile <path>          Mix a keyfile into the password (repeatable)
    --hash <name>             KDF algorithm name (create, change-password)
    --cipher <cascade>        Cipher cascade name (create)
    --size <n>[K|M|G|T]       Volume size (create)
    --filesystem <kind>       none|fat (create)
    --backend <name>          fuse|nfs|iscsi transport for mount (default fuse)
    --read-only               Mount read-only
    --use-backup-headers       Mount using the backup header group
    --non-interactive          Fail instead of prompting for input
    --force                    Skip confirmation prompts

EXAMPLES:
    basalt-cli create vault.basalt --size 100M --cipher AES-256
    basalt-cli mount vault.basalt /mnt/vault
    basalt-cli dismount /mnt/vault
    basalt-cli list
    basalt-cli change-password vault.basalt
    basalt-cli backup-headers vault.basalt vault.backup
    basalt-cli restore-headers vault.basalt vault.backup
    basalt-cli create-keyfile vault.key

EXIT CODES:
    0  success
    1  generic failure
    2  password incorrect
    3  operation aborted by the user
`

func main() {
	cli := NewCLI()
	code := cli.Run()
	if code != 0 {
		cli.ExitFunc(code)
	}
}
