package sqlstore

const (
	DefaultRunsTable     = "profile_runs"
	DefaultProfilesTable = "profiles"
	DefaultEventsTable   = "profile_run_events"
)

// MySQLSchema creates the default tables. Timestamps are stored as unix nanoseconds so that the queries stay
// portable across MySQL and SQLite.
var MySQLSchema = []string{
	`
	create table if not exists profile_runs (
		id                 varchar(255) not null,
		subject_id         varchar(255) not null,
		status             int not null,
		wake_at            bigint not null default 0,
		version            bigint not null,
		object             mediumblob not null,
		created_at         bigint not null,
		updated_at         bigint not null,

		primary key (id),

		index by_subject_id (subject_id),
		index by_status_wake_at (status, wake_at)
	)`,
	`
	create table if not exists profiles (
		email              varchar(255) not null,
		first_name         varchar(255) not null,
		last_name          varchar(255) not null,
		phone_number       varchar(255) not null default '',
		city               varchar(255) not null default '',
		pincode            varchar(255) not null default '',
		version            bigint not null,
		created_at         bigint not null,
		updated_at         bigint not null,

		primary key (email)
	)`,
	`
	create table if not exists profile_run_events (
		id                 bigint not null auto_increment,
		foreign_id         varchar(255) not null,
		timestamp          datetime not null,
		type               int not null default 0,

		primary key (id)
	)`,
}
