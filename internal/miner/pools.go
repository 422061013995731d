package miner

// Pool is a well-known stratum endpoint offered as a starting point in the
// API; operators can always type their own.
type Pool struct {
	Name string `json:"name"`
	Algo string `json:"algo"`
	URL  string `json:"url"`
}

// DefaultPools lists the NiceHash EU endpoints for the algorithms the
// supported miners commonly run.
var DefaultPools = []Pool{
	{Name: "NiceHash KawPow", Algo: "kawpow", URL: "stratum+tcp://kawpow.auto.nicehash.com:9200"},
	{Name: "NiceHash DaggerHashimoto", Algo: "daggerhashimoto", URL: "stratum+tcp://daggerhashimoto.auto.nicehash.com:9200"},
	{Name: "NiceHash Autolykos", Algo: "autolykos", URL: "stratum+tcp://autolykos.auto.nicehash.com:9200"},
	{Name: "NiceHash RandomX", Algo: "randomxmonero", URL: "stratum+tcp://randomxmonero.auto.nicehash.com:9200"},
	{Name: "NiceHash Etchash", Algo: "etchash", URL: "stratum+tcp://etchash.auto.nicehash.com:9200"},
	{Name: "NiceHash ZelHash", Algo: "zelhash", URL: "stratum+tcp://zelhash.auto.nicehash.com:9200"},
}
