package repo

func Rebind(r Repo, query string) string { return r.q(query) }
