package ledger

// registryABI is the call interface of the VidVerse registry contract.
const registryABI = `[
  {"type":"function","name":"addVideo","stateMutability":"payable","inputs":[
    {"name":"_title","type":"string"},{"name":"_description","type":"string"},
    {"name":"_category","type":"string"},{"name":"_location","type":"string"},
    {"name":"_thumbnailHash","type":"string"},{"name":"_videoHash","type":"string"},
    {"name":"_metadataHash","type":"string"}],"outputs":[]},
  {"type":"function","name":"updateVideoInfo","stateMutability":"nonpayable","inputs":[
    {"name":"_videoId","type":"uint256"},{"name":"_title","type":"string"},
    {"name":"_description","type":"string"},{"name":"_category","type":"string"},
    {"name":"_location","type":"string"},{"name":"_thumbnailHash","type":"string"},
    {"name":"_metadataHash","type":"string"}],"outputs":[]},
  {"type":"function","name":"toggleLike","stateMutability":"nonpayable","inputs":[
    {"name":"_videoId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"commentVideo","stateMutability":"nonpayable","inputs":[
    {"name":"_videoId","type":"uint256"},{"name":"_comment","type":"string"}],"outputs":[]},
  {"type":"function","name":"nextVideoId","stateMutability":"view","inputs":[],
    "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"isLikedBy","stateMutability":"view","inputs":[
    {"name":"_videoId","type":"uint256"},{"name":"_account","type":"address"}],
    "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"videos","stateMutability":"view","inputs":[{"name":"id","type":"uint256"}],
    "outputs":[
      {"name":"id","type":"uint256"},{"name":"title","type":"string"},
      {"name":"description","type":"string"},{"name":"category","type":"string"},
      {"name":"location","type":"string"},{"name":"thumbnailHash","type":"string"},
      {"name":"videoHash","type":"string"},{"name":"owner","type":"address"},
      {"name":"coinAddress","type":"address"},{"name":"createdAt","type":"uint256"},
      {"name":"likesCount","type":"uint256"},{"name":"commentsCount","type":"uint256"}]},
  {"type":"function","name":"getVideoComments","stateMutability":"view","inputs":[
    {"name":"_videoId","type":"uint256"}],
    "outputs":[{"name":"","type":"tuple[]","components":[
      {"name":"id","type":"uint256"},{"name":"videoId","type":"uint256"},
      {"name":"author","type":"address"},{"name":"comment","type":"string"},
      {"name":"createdAt","type":"uint256"}]}]},
  {"type":"event","name":"VideoAdded","anonymous":false,"inputs":[
    {"name":"videoId","type":"uint256","indexed":true},
    {"name":"owner","type":"address","indexed":true},
    {"name":"coinAddress","type":"address","indexed":false}]}
]`
