package filter

/*
Here the Env used in the subscription filters is defined.
Filters are evaluated against every change event published on the hub, so the Env only carries the event itself.
Record keys are the JSON column names of the changed row (f.e. Record["hangout_id"]).
*/

type Env struct {
	Table    string
	Kind     string
	RecordId string
	Record   map[string]interface{}
	Created  int64
}
