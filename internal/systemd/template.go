package systemd

// DaemonTemplate returns the unit for the segvguard daemon.
func DaemonTemplate() string {
	return `[Unit]
Description=segvguard crash suspension daemon
After=local-fs.target

[Service]
Type=simple
ExecStart=/usr/local/bin/segvguard serve --config /etc/segvguard/segvguard.yaml
Restart=on-failure
RestartSec=2
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
RuntimeDirectory=segvguard
ReadWritePaths=/var/log/segvguard

[Install]
WantedBy=multi-user.target
`
}

// GuardedTemplate returns the unit template for segvguard-guarded@.service.
// The %i instance specifier names both the program and its scope.
func GuardedTemplate() string {
	return `[Unit]
Description=Crash-guarded service (%i) via segvguard
After=segvguard.service
Requires=segvguard.service

[Service]
Type=simple
ExecStart=/usr/local/bin/segvguard run --scope %i -- /usr/local/bin/%i
Restart=on-failure
RestartSec=2
RestartPreventExitStatus=77
NoNewPrivileges=true
PrivateTmp=true

[Install]
WantedBy=multi-user.target
`
}
