/*
Package config loads SBE configuration.

Three sources are handled here:

  - The daemon configuration (sbe.yaml) through viper. Every key can be
    overridden by SBE_<KEY> environment variables (dots become
    underscores), and the environment names of the legacy shell tooling
    (REPORTS_DIR, MAX_SIMULTANEOUS_BACKUPS, MAIL_RECIPIENT, KEYSERVER_HOST,
    KEYSERVER_API_KEY, KEYSERVER_VERIFY) are still honored.
  - The job definitions (backup.yaml), decoded with yaml.v3 and validated
    with go-playground/validator. A job that fails validation becomes a
    configuration error in JobSet.Invalid and is skipped; the other jobs
    still run. JobSource reloads the file when fsnotify reports a change.
  - The per-target server.config, shell-style KEY="value" assignments
    parsed with go-shellquote.

Example sbe.yaml:

	backup_dir: /opt/SBE/backup
	reports_dir: /var/SBE/reports/
	max_running: 2
	http_addr: 127.0.0.1:9310
	mail:
	  recipient: ops@example.com
	keyserver:
	  host: https://keys.example.com:5000
	  verify_tls: false
	  allow_local_fallback: true
	checker:
	  command: /opt/SBE/backup/tools/checker.sh
	  at: "18:00"
*/
package config
