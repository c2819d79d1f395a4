package db

import "database/sql"

// AddRepo registers a repo whose events this shuttle accepts.
func (d *DB) AddRepo(owner, name string) error {
	_, err := d.Exec(
		`insert or ignore into repos (owner, name) values (?, ?)`,
		owner, name,
	)
	return err
}

func (d *DB) RemoveRepo(owner, name string) error {
	_, err := d.Exec(
		`delete from repos where owner = ? and name = ?`,
		owner, name,
	)
	return err
}

// KnownRepo reports whether events for owner/name should be accepted.
func (d *DB) KnownRepo(owner, name string) (bool, error) {
	var id int64
	err := d.QueryRow(
		`select id from repos where owner = ? and name = ?`,
		owner, name,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *DB) Repos() ([]string, error) {
	rows, err := d.Query(`select owner, name from repos order by owner, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []string
	for rows.Next() {
		var owner, name string
		if err := rows.Scan(&owner, &name); err != nil {
			return nil, err
		}
		repos = append(repos, owner+"/"+name)
	}

	return repos, rows.Err()
}
